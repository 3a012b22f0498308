package protocol

// Tool parameters travel in a wrapped shape on the wire: every tool's
// parameters object is {"args": {...flat keys...}}, except read_file,
// whose file-addressing keys sit one level deeper under "file". The
// client unwraps before invoking a tool; the server wraps when building
// tool_approval_request and execute_tool frames.

const (
	argsKey = "args"
	fileKey = "file"

	// ReadFileTool is the one tool with the nested parameter shape.
	ReadFileTool = "read_file"
)

// Wrap converts flat tool parameters to the wire shape.
func Wrap(toolName string, flat map[string]any) map[string]any {
	if flat == nil {
		flat = map[string]any{}
	}
	if toolName == ReadFileTool {
		file := make(map[string]any, len(flat))
		for k, v := range flat {
			file[k] = v
		}
		return map[string]any{argsKey: map[string]any{fileKey: file}}
	}
	args := make(map[string]any, len(flat))
	for k, v := range flat {
		args[k] = v
	}
	return map[string]any{argsKey: args}
}

// Unwrap converts wire-shaped parameters back to the flat form. Inputs
// that are already flat (no "args" key) pass through unchanged so both
// peers tolerate either shape.
func Unwrap(toolName string, wrapped map[string]any) map[string]any {
	if wrapped == nil {
		return map[string]any{}
	}
	inner, ok := wrapped[argsKey].(map[string]any)
	if !ok {
		return wrapped
	}
	if toolName == ReadFileTool {
		if file, ok := inner[fileKey].(map[string]any); ok {
			flat := make(map[string]any, len(file))
			for k, v := range file {
				flat[k] = v
			}
			return flat
		}
	}
	flat := make(map[string]any, len(inner))
	for k, v := range inner {
		flat[k] = v
	}
	return flat
}
