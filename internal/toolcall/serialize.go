package toolcall

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Serialize renders a tool call in the XML-ish form the extractor reads.
// Keys are emitted in sorted order so output is deterministic.
func Serialize(call models.ToolCall) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(call.Name)
	b.WriteString("><args>")
	if call.Name == registry.ToolReadFile {
		b.WriteString("<file>")
		writeFields(&b, call.Parameters)
		b.WriteString("</file>")
	} else {
		writeFields(&b, call.Parameters)
	}
	b.WriteString("</args></")
	b.WriteString(call.Name)
	b.WriteString(">")
	return b.String()
}

func writeFields(b *strings.Builder, params map[string]any) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("<")
		b.WriteString(k)
		b.WriteString(">")
		b.WriteString(formatValue(params[k]))
		b.WriteString("</")
		b.WriteString(k)
		b.WriteString(">")
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return html.EscapeString(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.Itoa(int(val))
	case []int:
		if len(val) == 2 {
			return fmt.Sprintf("%d-%d", val[0], val[1])
		}
	}
	return html.EscapeString(fmt.Sprintf("%v", v))
}
