package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	imgRe   = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	soundRe = regexp.MustCompile(`\[sound:[^\]]*\]`)
	avRe    = regexp.MustCompile(`(?is)<(audio|video)\b[^>]*>.*?</(audio|video)>|<(audio|video|source)\b[^>]*/?>`)
)

// RemoveMedia drops image, sound and video references. Explanations are
// text-only, so the model never sees them.
func RemoveMedia(s string) string {
	s = imgRe.ReplaceAllString(s, "")
	s = soundRe.ReplaceAllString(s, "")
	s = avRe.ReplaceAllString(s, "")
	return s
}

// BreaksToNewlines turns Anki's HTML line breaks and carriage returns into
// plain newlines.
func BreaksToNewlines(s string) string {
	r := strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"\r", "\n",
	)
	s = r.Replace(s)
	return strings.ReplaceAll(s, " }}\n", "}}\n")
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded. Text that is not HTML passes through unchanged.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
