package ingest

import (
	"strings"
)

// Chunk splits text into pieces of at most size runes. Paragraphs (separated
// by blank lines) are packed together while they fit; a paragraph longer than
// size is cut at the last sentence end or space before the limit. Markdown
// headings are dropped since they rarely carry content on their own.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 800
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range paragraphs(text) {
		for _, piece := range split(para, size) {
			if cur.Len() > 0 && len([]rune(cur.String()))+2+len([]rune(piece)) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		var lines []string
		for _, l := range strings.Split(p, "\n") {
			l = strings.TrimSpace(l)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			lines = append(lines, l)
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, " "))
		}
	}
	return out
}

// split cuts an over-long paragraph into size-bounded pieces.
func split(para string, size int) []string {
	r := []rune(para)
	var out []string
	for len(r) > size {
		cut := lastBreak(r[:size])
		out = append(out, strings.TrimSpace(string(r[:cut])))
		r = []rune(strings.TrimSpace(string(r[cut:])))
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func lastBreak(r []rune) int {
	for i := len(r) - 1; i > len(r)/2; i-- {
		if (r[i] == '.' || r[i] == '!' || r[i] == '?') && i+1 < len(r) && r[i+1] == ' ' {
			return i + 1
		}
	}
	for i := len(r) - 1; i > 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return len(r)
}
