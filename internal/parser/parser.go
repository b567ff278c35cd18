// Package parser reads story-context documents: an optional YAML
// frontmatter block, a Markdown body, and [[node_id]] references to graph
// nodes embedded in the prose.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var refRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Header is the frontmatter of a story-context document.
type Header struct {
	Title string   `yaml:"title" json:"title,omitempty"`
	Tags  []string `yaml:"tags" json:"tags,omitempty"`
}

// Document is a parsed story-context document.
type Document struct {
	Header Header
	Body   string
	// Refs lists referenced node ids in first-seen order, without duplicates.
	Refs []string
}

// Parse splits data into frontmatter and body and collects node references.
// Malformed frontmatter is treated as part of the body.
func Parse(data []byte) Document {
	h, body := splitFrontmatter(data)
	return Document{
		Header: h,
		Body:   body,
		Refs:   extractRefs(body),
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (Header, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return Header{}, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Header{}, string(data)
	}

	var h Header
	if err := yaml.Unmarshal(rest[:idx], &h); err != nil {
		return Header{}, string(data)
	}
	h.Title = strings.TrimSpace(h.Title)
	h.Tags = cleanTags(h.Tags)

	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return h, body
}

// extractRefs returns deduplicated reference targets. [[id|label]] yields id.
func extractRefs(body string) []string {
	matches := refRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target, _, _ := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func cleanTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
