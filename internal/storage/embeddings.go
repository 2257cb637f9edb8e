package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// TextHash is the cache key of text next to the model name.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetEmbedding returns the cached vector of text under model, or
// ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE model = ? AND text_hash = ?`,
		model, TextHash(text),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying embedding: %w", err)
	}
	return decodeVector(blob)
}

// PutEmbedding stores vec for text under model, replacing any earlier one.
func (s *Store) PutEmbedding(ctx context.Context, model, text string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (model, text_hash, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model, text_hash) DO UPDATE SET
			dims = excluded.dims,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		model, TextHash(text), len(vec), encodeVector(vec), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

// ListEmbeddings describes every cached vector, newest first.
func (s *Store) ListEmbeddings(ctx context.Context) ([]Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, text_hash, dims, created_at
		FROM embeddings
		ORDER BY created_at DESC, model ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing embeddings: %w", err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var (
			e       Embedding
			created string
		)
		if err := rows.Scan(&e.Model, &e.TextHash, &e.Dims, &created); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("embedding %s: bad created_at: %w", e.TextHash, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeModel deletes every vector produced by model and reports how many
// were removed.
func (s *Store) PurgeModel(ctx context.Context, model string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE model = ?`, model)
	if err != nil {
		return 0, fmt.Errorf("purging embeddings: %w", err)
	}
	return res.RowsAffected()
}

// Vectors are stored as packed little-endian float32s.

func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, len(v)*4)
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
