package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// File names inside the explainer's data directory.
const (
	DirName     = "explainer"
	HistoryFile = "explainer_history.json"
	LogFile     = "explainer_logs.txt"
)

// Env is the run context handed to every stage. Nothing in the pipeline
// reads globals; tests build an Env directly.
type Env struct {
	Logger      *slog.Logger
	Dir         string
	HistoryPath string
	LogPath     string
	RunID       string
	Now         func() time.Time

	logFile *os.File
}

// NewEnv creates <dataDir>/explainer, opens the log file there in append
// mode, and returns an Env whose logger writes to both stderr and the file.
func NewEnv(dataDir string, level slog.Level, stderr io.Writer) (*Env, error) {
	dir := filepath.Join(dataDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	logPath := filepath.Join(dir, LogFile)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	runID := uuid.NewString()
	handler := slog.NewTextHandler(io.MultiWriter(stderr, f), &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("run_id", runID)

	return &Env{
		Logger:      logger,
		Dir:         dir,
		HistoryPath: filepath.Join(dir, HistoryFile),
		LogPath:     logPath,
		RunID:       runID,
		Now:         time.Now,
		logFile:     f,
	}, nil
}

// Close releases the log file.
func (e *Env) Close() error {
	if e.logFile == nil {
		return nil
	}
	return e.logFile.Close()
}

// AnnotationDate formats the date stamped on cards as DD/MM/YYYY. Before
// 06:00 the previous day is used.
func AnnotationDate(now time.Time) string {
	if now.Hour() <= 5 {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format("02/01/2006")
}
