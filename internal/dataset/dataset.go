// Package dataset loads the few-shot examples used to prompt the model.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Separator is the line that splits messages in a text dataset.
const Separator = "----"

// ErrMalformed is returned when a dataset does not have a system prompt
// followed by complete user/assistant pairs.
var ErrMalformed = errors.New("malformed dataset")

// Example is one user turn and the assistant reply it should elicit.
type Example struct {
	User      string `yaml:"user" json:"user"`
	Assistant string `yaml:"assistant" json:"assistant"`
}

// Dataset is a system prompt plus ordered examples.
type Dataset struct {
	System   string    `yaml:"system" json:"system"`
	Examples []Example `yaml:"examples" json:"examples"`
}

// Load reads a dataset from path. Files ending in .yaml or .yml are parsed
// as YAML; anything else is treated as ----separated text.
func Load(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset %s: %w", path, err)
	}

	var ds Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		ds, err = ParseYAML(data)
	default:
		ds, err = ParseText(string(data))
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}

// ParseText parses messages separated by lines consisting of "----". The
// first message is the system prompt; the rest alternate user, assistant.
func ParseText(s string) (Dataset, error) {
	var (
		msgs []string
		cur  strings.Builder
	)
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == Separator {
			msgs = append(msgs, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if err := sc.Err(); err != nil {
		return Dataset{}, err
	}
	if last := strings.TrimSpace(cur.String()); last != "" {
		msgs = append(msgs, last)
	}

	if len(msgs) == 0 || msgs[0] == "" {
		return Dataset{}, fmt.Errorf("%w: missing system prompt", ErrMalformed)
	}
	rest := msgs[1:]
	if len(rest)%2 != 0 {
		return Dataset{}, fmt.Errorf("%w: %d messages after the system prompt, want user/assistant pairs", ErrMalformed, len(rest))
	}

	ds := Dataset{System: msgs[0]}
	for i := 0; i < len(rest); i += 2 {
		ds.Examples = append(ds.Examples, Example{User: rest[i], Assistant: rest[i+1]})
	}
	return ds, ds.validate()
}

// ParseYAML parses a dataset of the form
//
//	system: ...
//	examples:
//	  - user: ...
//	    assistant: ...
func ParseYAML(data []byte) (Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ds.System = strings.TrimSpace(ds.System)
	for i := range ds.Examples {
		ds.Examples[i].User = strings.TrimSpace(ds.Examples[i].User)
		ds.Examples[i].Assistant = strings.TrimSpace(ds.Examples[i].Assistant)
	}
	return ds, ds.validate()
}

func (ds Dataset) validate() error {
	if ds.System == "" {
		return fmt.Errorf("%w: missing system prompt", ErrMalformed)
	}
	for i, ex := range ds.Examples {
		if ex.User == "" || ex.Assistant == "" {
			return fmt.Errorf("%w: example %d has an empty turn", ErrMalformed, i)
		}
	}
	return nil
}
