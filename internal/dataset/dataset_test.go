package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const textDataset = `You explain flashcards.
----
Text: The capital of France is Paris
----
Paris has been the capital since 987.
----
Text: Water boils at 100C
----
At sea level, that is.
`

func TestParseText(t *testing.T) {
	ds, err := ParseText(textDataset)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	want := Dataset{
		System: "You explain flashcards.",
		Examples: []Example{
			{User: "Text: The capital of France is Paris", Assistant: "Paris has been the capital since 987."},
			{User: "Text: Water boils at 100C", Assistant: "At sea level, that is."},
		},
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestParseText_SystemOnly(t *testing.T) {
	ds, err := ParseText("Just a system prompt\n")
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if ds.System != "Just a system prompt" || len(ds.Examples) != 0 {
		t.Errorf("got %+v", ds)
	}
}

func TestParseText_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":           "",
		"dangling user":   "sys\n----\nuser only\n",
		"empty assistant": "sys\n----\nuser\n----\n\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseText(in); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	content := `system: |
  You explain flashcards.
examples:
  - user: "Text: Paris"
    assistant: "Capital of France."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Dataset{
		System:   "You explain flashcards.",
		Examples: []Example{{User: "Text: Paris", Assistant: "Capital of France."}},
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_TextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.txt")
	if err := os.WriteFile(path, []byte(textDataset), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Examples) != 2 {
		t.Errorf("examples = %d, want 2", len(ds.Examples))
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error")
	}
}
