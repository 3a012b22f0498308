// Package files implements the workspace file tools. Every function
// takes paths the sandbox has already validated; sandbox rejection and
// file-context tracking are the tool runner's job, not this package's.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// BackupSuffix is appended to a file's path when a write-class tool
// copies it aside before modifying it. No rotation: the latest backup wins.
const BackupSuffix = ".backup"

// skipNames are well-known junk directories and files excluded from
// listings and searches even when they slip past the sandbox.
var skipNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".DS_Store":    true,
	"Thumbs.db":    true,
}

func skipEntry(name string) bool {
	if skipNames[name] {
		return true
	}
	switch {
	case strings.HasSuffix(name, ".pyc"), strings.HasSuffix(name, ".pyo"):
		return true
	case name == ".env" || strings.HasPrefix(name, ".env."):
		return true
	case strings.HasSuffix(name, ".log"):
		return true
	case strings.HasSuffix(name, BackupSuffix):
		return true
	}
	return false
}

// Read returns the file content, optionally limited to a 1-based
// inclusive line range.
func Read(path string, lineRange []int) *models.ToolResult {
	raw, err := os.ReadFile(path)
	if err != nil {
		return readError(path, err)
	}
	if !utf8.Valid(raw) {
		return models.ErrorResult(protocol.ErrCodeEncoding,
			fmt.Sprintf("file is not valid UTF-8: %s", path))
	}
	content := string(raw)

	if len(lineRange) == 2 {
		lines := splitLines(content)
		start, end := lineRange[0], lineRange[1]
		if start < 1 || end < start || end > len(lines) {
			return models.ErrorResult(protocol.ErrCodeInvalidLineRange,
				fmt.Sprintf("line range [%d,%d] is out of bounds for %d lines", start, end, len(lines)))
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	result := models.SuccessResult(content)
	result.Metadata = map[string]any{"path": path, "chars": len(content)}
	return result
}

// Write creates or overwrites path with content, creating parent
// directories and taking a backup of any existing target first. The
// final line count is verified against lineCount.
func Write(path, content string, lineCount int) *models.ToolResult {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("create parent directories: %v", err))
	}
	existed, err := backup(path)
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("back up existing file: %v", err))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return writeError(path, err)
	}
	if got := countLines(content); got != lineCount {
		return models.ErrorResult(protocol.ErrCodeLineCountMismatch,
			fmt.Sprintf("expected %d lines, wrote %d", lineCount, got))
	}

	result := models.SuccessResult(fmt.Sprintf("wrote %d bytes", len(content)))
	result.Metadata = map[string]any{
		"path":    path,
		"bytes":   len(content),
		"lines":   lineCount,
		"created": !existed,
	}
	return result
}

// Insert places content at a 1-based line number; lineNumber N+1 appends
// to a file of N lines. A backup is taken first.
func Insert(path string, lineNumber int, content string) *models.ToolResult {
	raw, err := os.ReadFile(path)
	if err != nil {
		return readError(path, err)
	}
	if !utf8.Valid(raw) {
		return models.ErrorResult(protocol.ErrCodeEncoding,
			fmt.Sprintf("file is not valid UTF-8: %s", path))
	}
	lines := splitLines(string(raw))
	if lineNumber < 1 || lineNumber > len(lines)+1 {
		return models.ErrorResult(protocol.ErrCodeInvalidLineRange,
			fmt.Sprintf("line number %d is out of bounds for %d lines", lineNumber, len(lines)))
	}
	if _, err := backup(path); err != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("back up existing file: %v", err))
	}

	inserted := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:lineNumber-1]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[lineNumber-1:]...)
	output := strings.Join(updated, "\n")
	if strings.HasSuffix(string(raw), "\n") || len(raw) == 0 {
		output += "\n"
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return writeError(path, err)
	}

	result := models.SuccessResult(fmt.Sprintf("inserted %d line(s) at line %d", len(inserted), lineNumber))
	result.Metadata = map[string]any{"path": path, "line_number": lineNumber}
	return result
}

// SearchReplace replaces every occurrence of the literal search string.
func SearchReplace(path, search, replace string) *models.ToolResult {
	raw, err := os.ReadFile(path)
	if err != nil {
		return readError(path, err)
	}
	if !utf8.Valid(raw) {
		return models.ErrorResult(protocol.ErrCodeEncoding,
			fmt.Sprintf("file is not valid UTF-8: %s", path))
	}
	content := string(raw)
	count := strings.Count(content, search)
	if count == 0 {
		return models.ErrorResult(protocol.ErrCodeSearchTextNotFound,
			fmt.Sprintf("search text not found in %s", path))
	}
	if _, err := backup(path); err != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("back up existing file: %v", err))
	}
	updated := strings.ReplaceAll(content, search, replace)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return writeError(path, err)
	}

	result := models.SuccessResult(fmt.Sprintf("replaced %d occurrence(s)", count))
	result.Metadata = map[string]any{"path": path, "replacements": count}
	return result
}

// backup copies path to path+BackupSuffix if it exists. Returns whether
// the target existed.
func backup(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path+BackupSuffix, raw, mode); err != nil {
		return true, err
	}
	return true, nil
}

// splitLines splits content on \n; a single trailing newline does not
// produce an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// countLines matches splitLines semantics for line-count verification.
func countLines(content string) int {
	return len(splitLines(content))
}

func readError(path string, err error) *models.ToolResult {
	switch {
	case os.IsNotExist(err):
		return models.ErrorResult(protocol.ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path))
	case os.IsPermission(err):
		return models.ErrorResult(protocol.ErrCodePermissionDenied, fmt.Sprintf("permission denied: %s", path))
	default:
		return models.ErrorResult(protocol.ErrCodeToolExecution, fmt.Sprintf("read %s: %v", path, err))
	}
}

func writeError(path string, err error) *models.ToolResult {
	if os.IsPermission(err) {
		return models.ErrorResult(protocol.ErrCodePermissionDenied, fmt.Sprintf("permission denied: %s", path))
	}
	return models.ErrorResult(protocol.ErrCodeToolExecution, fmt.Sprintf("write %s: %v", path, err))
}
