package pipeline

import (
	"regexp"
	"strings"
)

var (
	emphasisRe = regexp.MustCompile(`\* ([A-Z]+\b)`)
	detailsRe  = regexp.MustCompile(`</?details>|</?summary>`)
)

// Emphasize bolds an all-caps word right after a bullet: "* ANSWER" becomes
// "* <b>ANSWER</b>".
func Emphasize(s string) string {
	return emphasisRe.ReplaceAllString(s, "* <b>$1</b>")
}

// ComposeField builds the new value of the explanation field. Previous
// content survives only if it was written by the explainer (it carries a
// VERSION: footer); it is folded into a collapsed <details> block below
// the new explanation. Newlines become <br>.
func ComposeField(explanation, previous, date, version, model string) string {
	previous = strings.TrimSpace(previous)
	if !strings.Contains(previous, "VERSION:") {
		previous = ""
	}
	previous = strings.TrimSpace(detailsRe.ReplaceAllString(previous, ""))
	if previous != "" {
		previous = "<details><summary>Previous explanations</summary>" + previous + "</details>"
	}

	var sb strings.Builder
	sb.WriteString(explanation)
	sb.WriteString("<br><br>")
	sb.WriteString("[DATE:" + date + " VERSION:" + version + " LLMMODEL:" + model + "]")
	sb.WriteString("<br><br>")
	sb.WriteString("<!--SEPARATOR-->")
	sb.WriteString(previous)

	return strings.NewReplacer("\r", "<br>", "\n", "<br>").Replace(sb.String())
}

// BuildQuery appends the version exclusion to query unless force is set,
// so cards already explained at version are skipped by Anki itself.
func BuildQuery(query, version string, force bool) string {
	if force {
		return query
	}
	return query + " -" + FieldName + ":*VERSION:" + version + "* "
}
