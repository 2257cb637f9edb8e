package pipeline

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestEmphasize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"* ANSWER: Paris", "* <b>ANSWER</b>: Paris"},
		{"- * NOTE and * TIP", "- * <b>NOTE</b> and * <b>TIP</b>"},
		{"* Answer: lowercase", "* Answer: lowercase"},
		{"*ANSWER", "*ANSWER"},
	}
	for _, tt := range tests {
		if got := Emphasize(tt.in); got != tt.want {
			t.Errorf("Emphasize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComposeField_FirstExplanation(t *testing.T) {
	got := ComposeField("line1\nline2", "", "19/10/2026", "1.7", "m")
	want := "line1<br>line2<br><br>[DATE:19/10/2026 VERSION:1.7 LLMMODEL:m]<br><br><!--SEPARATOR-->"
	if got != want {
		t.Errorf("ComposeField = %q, want %q", got, want)
	}
}

func TestComposeField_DropsForeignContent(t *testing.T) {
	got := ComposeField("new", "user notes without footer", "d", "1.7", "m")
	if strings.Contains(got, "user notes") || strings.Contains(got, "<details>") {
		t.Errorf("foreign previous content kept: %q", got)
	}
}

func TestComposeField_WrapsPrevious(t *testing.T) {
	previous := "old<br><br>[DATE:01/01/2026 VERSION:1.6 LLMMODEL:m]<br><br><!--SEPARATOR--><details><summary>Previous explanations</summary>older</details>"
	got := ComposeField("new", previous, "19/10/2026", "1.7", "m")

	if strings.Count(got, "<details>") != 1 || strings.Count(got, "</details>") != 1 {
		t.Errorf("details not flattened: %q", got)
	}
	if !strings.HasSuffix(got, "</details>") {
		t.Errorf("previous not wrapped at the end: %q", got)
	}
	if !strings.Contains(got, "VERSION:1.6") || !strings.Contains(got, "older") {
		t.Errorf("previous content lost: %q", got)
	}
}

func TestComposeField_CarriageReturns(t *testing.T) {
	got := ComposeField("a\r\nb", "", "d", "v", "m")
	if strings.ContainsAny(got, "\r\n") {
		t.Errorf("raw line terminators left: %q", got)
	}
	if !strings.HasPrefix(got, "a<br><br>b") {
		t.Errorf("got %q", got)
	}
}

func TestAnnotationDate(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 10, 19, 5, 59, 0, 0, time.Local), "18/10/2026"},
		{time.Date(2026, 10, 19, 6, 0, 0, 0, time.Local), "19/10/2026"},
		{time.Date(2026, 1, 1, 2, 0, 0, 0, time.Local), "31/12/2025"},
	}
	for _, tt := range tests {
		if got := AnnotationDate(tt.at); got != tt.want {
			t.Errorf("AnnotationDate(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	if got := BuildQuery("deck:X", "1.7", false); got != "deck:X -AnkiExplainer:*VERSION:1.7* " {
		t.Errorf("BuildQuery = %q", got)
	}
	if got := BuildQuery("deck:X", "1.7", true); got != "deck:X" {
		t.Errorf("forced BuildQuery = %q", got)
	}
}

func TestParseFields(t *testing.T) {
	got := ParseFields(" Text, Back Extra ,,")
	if len(got) != 2 || got[0] != "Text" || got[1] != "Back Extra" {
		t.Errorf("ParseFields = %q", got)
	}
}

func TestNewEnv(t *testing.T) {
	dir := t.TempDir()
	env, err := NewEnv(dir, slog.LevelInfo, io.Discard)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	defer env.Close()

	env.Logger.Info("hello from test")
	data, err := os.ReadFile(env.LogPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") || !strings.Contains(string(data), env.RunID) {
		t.Errorf("log file = %q", data)
	}
	if !strings.HasSuffix(env.HistoryPath, "explainer/explainer_history.json") {
		t.Errorf("HistoryPath = %q", env.HistoryPath)
	}
}
