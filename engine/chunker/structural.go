package chunker

import (
	"context"
	"regexp"
	"strings"

	"github.com/logbotai/logbot/engine/domain"
)

// Lines starting a new protocol section.
var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+\.\s+[A-ZÅÄÖ]`), // 3. Ekonomi
	regexp.MustCompile(`^[a-z]\)\s+`),       // a) Beslut
	regexp.MustCompile(`^Närvarande:`),
	regexp.MustCompile(`^Datum:`),
	regexp.MustCompile(`^Plats:`),
}

var (
	subItemLabel  = regexp.MustCompile(`^[a-z]\)`)
	numberedLabel = regexp.MustCompile(`^(\d+)\.`)
)

// Structural splits meeting protocols on their section headers. Text before
// the first header becomes a single meeting-info chunk. A header with no body
// still yields a chunk holding the header line.
type Structural struct{}

// Split implements Splitter. It never fails.
func (Structural) Split(_ context.Context, text string) ([]Chunk, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		out     []Chunk
		header  string
		body    []string
		leading []string
	)

	flush := func() {
		if header == "" {
			if s := strings.TrimSpace(strings.Join(leading, "\n")); s != "" {
				out = append(out, Chunk{Content: s, Section: domain.SectionMeetingInfo, Type: domain.TypeHeader})
			}
			leading = nil
			return
		}
		content := header
		if s := strings.TrimSpace(strings.Join(body, "\n")); s != "" {
			content += "\n" + s
		}
		out = append(out, Chunk{Content: content, Section: sectionLabel(header), Type: domain.TypeContent})
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isSectionStart(trimmed) {
			flush()
			header = trimmed
			continue
		}
		if header == "" {
			leading = append(leading, line)
		} else {
			body = append(body, line)
		}
	}
	flush()
	return out, nil
}

func isSectionStart(line string) bool {
	for _, p := range sectionPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// sectionLabel derives a short label from a header line: "3" for
// "3. Ekonomi", "a)" for "a) Beslut", "Datum" for "Datum: 5 mars".
func sectionLabel(header string) string {
	if m := subItemLabel.FindString(header); m != "" {
		return m
	}
	if m := numberedLabel.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	if i := strings.IndexByte(header, ':'); i > 0 {
		return header[:i]
	}
	return header
}
