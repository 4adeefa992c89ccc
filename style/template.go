package style

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Template is a parsed template string ready to render against feature metadata
type Template struct {
	source string
	nodes  []node
}

type node interface {
	render(meta map[string]any) string
}

type textNode string

func (n textNode) render(map[string]any) string { return string(n) }

// varNode renders a single metadata value by dotted path
type varNode []string

func (n varNode) render(meta map[string]any) string {
	v, ok := lookup(meta, n)
	if !ok {
		return ""
	}
	return format(v)
}

// fallbackNode renders the first of its paths present in metadata. When none
// is present the tag stays in the output as written.
type fallbackNode struct {
	tag   string
	paths [][]string
}

func (n fallbackNode) render(meta map[string]any) string {
	for _, path := range n.paths {
		if v, ok := lookup(meta, path); ok {
			return format(v)
		}
	}
	return n.tag
}

// ParseTemplate parses text containing {{name}} and {{fallback a b c}} tags
func ParseTemplate(text string) (*Template, error) {
	t := &Template{source: text}
	rest := text
	offset := 0

	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				t.nodes = append(t.nodes, textNode(rest))
			}
			return t, nil
		}
		if open > 0 {
			t.nodes = append(t.nodes, textNode(rest[:open]))
		}

		pos := offset + open
		body := rest[open+2:]
		if strings.HasPrefix(body, "{") {
			return nil, parseError(text, pos+2, "'ID'", "'{'")
		}
		end := strings.Index(body, "}}")
		if end < 0 {
			return nil, parseError(text, len(text), "'}}'", "EOF")
		}

		n, err := parseTag(text, pos, rest[open:open+2+end+2])
		if err != nil {
			return nil, err
		}
		t.nodes = append(t.nodes, n)

		consumed := open + 2 + end + 2
		rest = rest[consumed:]
		offset += consumed
	}
}

// parseTag parses one {{...}} tag, braces included
func parseTag(text string, pos int, tag string) (node, error) {
	fields := strings.Fields(tag[2 : len(tag)-2])
	if len(fields) == 0 {
		return nil, parseError(text, pos+2, "'ID'", "'}}'")
	}
	for _, f := range fields {
		if !isIdent(f) {
			return nil, parseError(text, pos+2, "'ID'", strconv.Quote(f))
		}
	}

	if fields[0] == "fallback" && len(fields) > 1 {
		n := fallbackNode{tag: tag, paths: make([][]string, 0, len(fields)-1)}
		for _, f := range fields[1:] {
			n.paths = append(n.paths, strings.Split(f, "."))
		}
		return n, nil
	}
	if len(fields) > 1 {
		return nil, parseError(text, pos+2, "'}}'", "'ID'")
	}
	return varNode(strings.Split(fields[0], ".")), nil
}

func parseError(text string, pos int, expecting, got string) error {
	return fmt.Errorf("parse error in %q at offset %d: Expecting %s, got %s", text, pos, expecting, got)
}

func isIdent(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Render evaluates the template against metadata
func (t *Template) Render(meta map[string]any) string {
	if len(t.nodes) == 1 {
		return t.nodes[0].render(meta)
	}
	var b strings.Builder
	for _, n := range t.nodes {
		b.WriteString(n.render(meta))
	}
	return b.String()
}

// String returns the template source
func (t *Template) String() string {
	return t.source
}

func lookup(meta map[string]any, path []string) (any, bool) {
	var cur any = meta
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
