package files

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

const (
	// binaryProbeSize is how much of a file is inspected for NUL bytes.
	binaryProbeSize = 1024
	// maxSearchMatches caps a single search so a catastrophic regex
	// cannot flood the conversation.
	maxSearchMatches = 1000
)

// Match is one regex hit inside a searched file.
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
	Match   string `json:"match"`
}

// Search walks dir recursively, filters files by the optional filename
// glob, skips binaries, and scans each line with the case-insensitive
// pattern.
func Search(dir, pattern, filePattern string) *models.ToolResult {
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeInvalidRegex,
			fmt.Sprintf("invalid regex %q: %v", pattern, err))
	}

	matches := []Match{}
	filesSearched := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path != dir && skipEntry(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipEntry(d.Name()) {
			return nil
		}
		if filePattern != "" {
			if ok, err := filepath.Match(filePattern, d.Name()); err != nil || !ok {
				return nil
			}
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if isBinary(raw) {
			return nil
		}
		filesSearched++
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		for i, line := range strings.Split(string(raw), "\n") {
			hit := re.FindString(line)
			if hit == "" && !re.MatchString(line) {
				continue
			}
			matches = append(matches, Match{
				File:    filepath.ToSlash(rel),
				Line:    i + 1,
				Content: line,
				Match:   hit,
			})
			if len(matches) >= maxSearchMatches {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return models.ErrorResult(protocol.ErrCodeToolExecution,
			fmt.Sprintf("search %s: %v", dir, walkErr))
	}

	result := models.SuccessResult(map[string]any{
		"matches":        matches,
		"files_searched": filesSearched,
	})
	result.Metadata = map[string]any{"match_count": len(matches)}
	return result
}

// isBinary treats any NUL byte in the first KiB as binary content.
func isBinary(raw []byte) bool {
	probe := raw
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
