// Package storycontext edits story-context documents: loosely structured
// Markdown made of "## Section" headers followed by free text.
package storycontext

import (
	"regexp"
	"strings"

	"github.com/starford/storyloom/internal/models"
)

const headerPrefix = "## "

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Apply runs changes against doc in order and returns the trimmed result.
// It never fails: a change whose anchor section is missing appends a new
// section instead.
func Apply(doc string, changes []models.StoryContextChange) string {
	for _, c := range changes {
		switch c.Operation {
		case models.ContextAdd:
			doc = insertIntoSection(doc, c.Section, c.Content)
		case models.ContextModify:
			if c.PreviousContent != "" {
				doc = strings.ReplaceAll(doc, c.PreviousContent, c.Content)
			} else {
				doc = insertIntoSection(doc, c.Section, c.Content)
			}
		case models.ContextDelete:
			doc = deleteContent(doc, c.Content)
		}
	}
	return strings.TrimSpace(doc)
}

// insertIntoSection places content at the end of the named section, just
// before the next header, or appends a new section when none matches.
func insertIntoSection(doc, section, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return doc
	}
	section = strings.TrimSpace(section)

	end, ok := sectionEnd(doc, section)
	if !ok {
		return appendSection(doc, section, content)
	}

	before := strings.TrimRight(doc[:end], " \t\r\n")
	after := doc[end:]
	if after == "" {
		return before + "\n\n" + content
	}
	return before + "\n\n" + content + "\n\n" + after
}

func appendSection(doc, section, content string) string {
	body := headerPrefix + section + "\n\n" + content
	trimmed := strings.TrimRight(doc, " \t\r\n")
	if trimmed == "" {
		return body
	}
	return trimmed + "\n\n" + body
}

// deleteContent removes every literal occurrence of content together with
// the whitespace following it, then collapses leftover blank-line runs.
func deleteContent(doc, content string) string {
	if strings.TrimSpace(content) == "" {
		return doc
	}
	re := regexp.MustCompile(regexp.QuoteMeta(content) + `\s*`)
	doc = re.ReplaceAllLiteralString(doc, "")
	return excessNewlines.ReplaceAllString(doc, "\n\n")
}

// sectionEnd returns the byte offset where the body of section ends: the
// start of the next header line, or len(doc). Header text is compared exactly.
func sectionEnd(doc, section string) (int, bool) {
	offset := 0
	found := false
	for offset <= len(doc) {
		lineEnd := strings.IndexByte(doc[offset:], '\n')
		next := len(doc) + 1
		line := doc[offset:]
		if lineEnd >= 0 {
			line = doc[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		}
		if strings.HasPrefix(line, headerPrefix) {
			if found {
				return offset, true
			}
			if strings.TrimRight(line[len(headerPrefix):], " \t\r") == section {
				found = true
			}
		}
		offset = next
	}
	if found {
		return len(doc), true
	}
	return 0, false
}

// Section is one header and its body.
type Section struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// Sections splits doc into its sections in document order. Text before the
// first header is returned as a section with an empty name when non-blank.
func Sections(doc string) []Section {
	var out []Section
	cur := Section{}
	var body []string
	flush := func() {
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Name != "" || cur.Body != "" {
			out = append(out, cur)
		}
		body = body[:0]
	}
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, headerPrefix) {
			flush()
			cur = Section{Name: strings.TrimSpace(line[len(headerPrefix):])}
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}
