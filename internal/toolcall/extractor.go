// Package toolcall extracts embedded tool invocations from assistant text.
// Tool calls are XML-ish blocks: an outer element named after the tool
// wrapping an <args> child. The scanner is deliberately not a real XML
// parser: it never resolves entities or external references, and any
// block that is malformed, names an unknown tool, or fails parameter
// validation is skipped without failing the turn.
package toolcall

import (
	"html"
	"strconv"
	"strings"

	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Field typing for the closed parameter vocabulary.
var (
	intFields = map[string]bool{
		"line_count":  true,
		"line_number": true,
		"timeout":     true,
	}
	boolFields = map[string]bool{
		"recursive": true,
	}
	// verbatimFields keep interior whitespace exactly as written.
	verbatimFields = map[string]bool{
		"content": true,
	}
)

// Extractor scans assistant text for tool calls against a registry.
type Extractor struct {
	reg *registry.Registry
}

// NewExtractor creates an extractor bound to the closed tool set.
func NewExtractor(reg *registry.Registry) *Extractor {
	return &Extractor{reg: reg}
}

// Extract returns every valid tool call in source order. Invalid blocks
// are skipped silently.
func (e *Extractor) Extract(content string) []models.ToolCall {
	var calls []models.ToolCall
	pos := 0
	for pos < len(content) {
		open := strings.IndexByte(content[pos:], '<')
		if open < 0 {
			break
		}
		open += pos
		name, nameEnd := scanTagName(content, open+1)
		if name == "" || !e.reg.Has(name) {
			pos = open + 1
			continue
		}
		closeTag := "</" + name + ">"
		closeIdx := strings.Index(content[nameEnd:], closeTag)
		if closeIdx < 0 {
			pos = open + 1
			continue
		}
		inner := content[nameEnd : nameEnd+closeIdx]
		if call, ok := e.parseCall(name, inner); ok {
			calls = append(calls, call)
		}
		pos = nameEnd + closeIdx + len(closeTag)
	}
	return calls
}

// scanTagName reads a tag name starting at idx and returns the name and
// the position just past the closing '>'. Attributes are not supported;
// a tag with anything but [a-z_] before '>' is not a tool tag.
func scanTagName(s string, idx int) (string, int) {
	i := idx
	for i < len(s) {
		c := s[i]
		if c == '>' {
			if i == idx {
				return "", 0
			}
			return s[idx:i], i + 1
		}
		if (c < 'a' || c > 'z') && c != '_' {
			return "", 0
		}
		i++
	}
	return "", 0
}

func (e *Extractor) parseCall(name, inner string) (models.ToolCall, bool) {
	argsInner, ok := between(inner, "args")
	if !ok {
		return models.ToolCall{}, false
	}
	if name == registry.ToolReadFile {
		fileInner, ok := between(argsInner, "file")
		if !ok {
			return models.ToolCall{}, false
		}
		argsInner = fileInner
	}
	params, ok := parseFields(argsInner)
	if !ok {
		return models.ToolCall{}, false
	}
	if err := e.reg.ValidateParams(name, params); err != nil {
		return models.ToolCall{}, false
	}
	return models.ToolCall{Name: name, Parameters: params}, true
}

// between returns the content of the first <tag>…</tag> child.
func between(s, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(s[start:], close)
	if end < 0 {
		return "", false
	}
	return s[start : start+end], true
}

// parseFields reads the scalar children of an args block into a flat,
// typed parameter map. A child that fails to parse poisons the block.
func parseFields(s string) (map[string]any, bool) {
	params := map[string]any{}
	pos := 0
	for pos < len(s) {
		open := strings.IndexByte(s[pos:], '<')
		if open < 0 {
			break
		}
		open += pos
		key, valStart := scanTagName(s, open+1)
		if key == "" {
			pos = open + 1
			continue
		}
		closeTag := "</" + key + ">"
		closeIdx := strings.Index(s[valStart:], closeTag)
		if closeIdx < 0 {
			return nil, false
		}
		raw := s[valStart : valStart+closeIdx]
		value, ok := parseValue(key, raw)
		if !ok {
			return nil, false
		}
		params[key] = value
		pos = valStart + closeIdx + len(closeTag)
	}
	return params, true
}

func parseValue(key, raw string) (any, bool) {
	unescaped := html.UnescapeString(raw)
	switch {
	case intFields[key]:
		n, err := strconv.Atoi(strings.TrimSpace(unescaped))
		if err != nil {
			return nil, false
		}
		return n, true
	case boolFields[key]:
		b, err := strconv.ParseBool(strings.TrimSpace(unescaped))
		if err != nil {
			return nil, false
		}
		return b, true
	case key == "line_range":
		return parseLineRange(strings.TrimSpace(unescaped))
	case verbatimFields[key]:
		return unescaped, true
	default:
		trimmed := strings.TrimSpace(unescaped)
		if trimmed == "" {
			return nil, false
		}
		return trimmed, true
	}
}

// parseLineRange accepts "start-end" or "start,end" with optional brackets.
func parseLineRange(s string) (any, bool) {
	s = strings.Trim(s, "[]")
	sep := "-"
	if strings.Contains(s, ",") {
		sep = ","
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return nil, false
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return []int{start, end}, true
}
