package anki

import (
	"encoding/json"
	"errors"
)

// ErrCountMismatch is returned when cardsInfo does not return one entry per
// requested card id.
var ErrCountMismatch = errors.New("cardsInfo returned an unexpected number of cards")

// Field is a single note field as returned by cardsInfo.
type Field struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// Card mirrors the cardsInfo payload of AnkiConnect. FormattedContent is not
// part of the AnkiConnect response; the normalizer fills it in.
//
// Keys the struct does not model (question, answer, due, lapses, css...)
// are kept in Extra and written back unchanged, so a snapshot survives any
// number of decode/encode cycles.
type Card struct {
	CardID           int64            `json:"cardId"`
	NoteID           int64            `json:"note"`
	DeckName         string           `json:"deckName"`
	ModelName        string           `json:"modelName,omitempty"`
	Ord              int              `json:"ord"`
	Type             int              `json:"type,omitempty"`
	Interval         int              `json:"interval,omitempty"`
	Fields           map[string]Field `json:"fields"`
	FormattedContent string           `json:"formatted_content,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// cardKeys are the JSON names of Card's typed fields.
var cardKeys = []string{
	"cardId", "note", "deckName", "modelName", "ord",
	"type", "interval", "fields", "formatted_content",
}

// cardFields has Card's layout without its methods.
type cardFields Card

func (c *Card) UnmarshalJSON(b []byte) error {
	var typed cardFields
	if err := json.Unmarshal(b, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range cardKeys {
		delete(all, k)
	}
	typed.Extra = nil
	if len(all) > 0 {
		typed.Extra = all
	}
	*c = Card(typed)
	return nil
}

func (c Card) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(cardFields(c))
	if err != nil || len(c.Extra) == 0 {
		return b, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, typed := all[k]; !typed {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// FieldValue returns the raw value of the named field, or "" if absent.
func (c Card) FieldValue(name string) string {
	return c.Fields[name].Value
}

// response is the envelope every AnkiConnect action returns.
type response[T any] struct {
	Result T       `json:"result"`
	Error  *string `json:"error"`
}
