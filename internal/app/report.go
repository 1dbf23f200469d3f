package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Result statuses.
const (
	StatusFound    = "found"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Result is the outcome of discovery for one site.
type Result struct {
	Site    string `json:"site"`
	Favicon string `json:"favicon,omitempty"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// writeReport renders results in the given format.
func writeReport(w io.Writer, format string, results []Result, cacheActive bool) error {
	switch format {
	case FormatJSON:
		return writeJSONReport(w, results)
	case "", FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdownReport(results, cacheActive))
		return err
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeJSONReport(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// renderMarkdownReport builds a table with one row per site followed by a
// short summary footer.
func renderMarkdownReport(results []Result, cacheActive bool) string {
	var b strings.Builder
	b.WriteString("# Favicons\n\n")
	b.WriteString("| Site | Favicon | Type | Status | Error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	found := 0
	for _, r := range results {
		if r.Status == StatusFound {
			found++
		}
		b.WriteString("| ")
		b.WriteString(escapeCell(r.Site))
		b.WriteString(" | ")
		b.WriteString(escapeCell(r.Favicon))
		b.WriteString(" | ")
		b.WriteString(escapeCell(r.Type))
		b.WriteString(" | ")
		b.WriteString(r.Status)
		b.WriteString(" | ")
		b.WriteString(escapeCell(r.Error))
		b.WriteString(" |\n")
	}
	b.WriteString("\n---\n")
	b.WriteString("Summary: found=")
	b.WriteString(strconv.Itoa(found))
	b.WriteString("; sites=")
	b.WriteString(strconv.Itoa(len(results)))
	b.WriteString("; http_cache=")
	b.WriteString(strconv.FormatBool(cacheActive))
	b.WriteString("\n")
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
