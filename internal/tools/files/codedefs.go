package files

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// Definition is one named code definition found by regex scanning.
type Definition struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type defPattern struct {
	kind string
	re   *regexp.Regexp
}

// definitionPatterns is a deliberate regex-level approximation: Gambiarra
// does not parse ASTs. Keyed by file extension.
var definitionPatterns = map[string][]defPattern{
	".go": {
		{"func", regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?(\w+)`)},
		{"type", regexp.MustCompile(`^type\s+(\w+)`)},
	},
	".py": {
		{"def", regexp.MustCompile(`^\s*def\s+(\w+)`)},
		{"class", regexp.MustCompile(`^\s*class\s+(\w+)`)},
	},
	".js": {
		{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`)},
		{"class", regexp.MustCompile(`^\s*(?:export\s+)?class\s+(\w+)`)},
		{"const", regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`)},
	},
	".rs": {
		{"fn", regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`)},
		{"struct", regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+(\w+)`)},
		{"enum", regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+(\w+)`)},
	},
	".java": {
		{"class", regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?(?:abstract\s+|final\s+)?class\s+(\w+)`)},
		{"interface", regexp.MustCompile(`^\s*(?:public\s+)?interface\s+(\w+)`)},
	},
}

func init() {
	definitionPatterns[".ts"] = definitionPatterns[".js"]
	definitionPatterns[".jsx"] = definitionPatterns[".js"]
	definitionPatterns[".tsx"] = definitionPatterns[".js"]
}

// maxDefinitionFiles bounds the scan so a huge tree cannot stall a turn.
const maxDefinitionFiles = 200

// CodeDefinitions scans a file, or the source files under a directory,
// for definition names.
func CodeDefinitions(path string) *models.ToolResult {
	info, err := os.Stat(path)
	if err != nil {
		return readError(path, err)
	}

	defs := []Definition{}
	scanned := 0
	scan := func(file string, rel string) {
		patterns, ok := definitionPatterns[strings.ToLower(filepath.Ext(file))]
		if !ok {
			return
		}
		raw, err := os.ReadFile(file)
		if err != nil || isBinary(raw) {
			return
		}
		scanned++
		for i, line := range strings.Split(string(raw), "\n") {
			for _, p := range patterns {
				if m := p.re.FindStringSubmatch(line); m != nil {
					defs = append(defs, Definition{
						File: filepath.ToSlash(rel),
						Line: i + 1,
						Kind: p.kind,
						Name: m[1],
					})
					break
				}
			}
		}
	}

	if info.IsDir() {
		_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != path && skipEntry(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if scanned >= maxDefinitionFiles {
				return filepath.SkipAll
			}
			if skipEntry(d.Name()) {
				return nil
			}
			rel, relErr := filepath.Rel(path, p)
			if relErr != nil {
				rel = p
			}
			scan(p, rel)
			return nil
		})
	} else {
		scan(path, filepath.Base(path))
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].File != defs[j].File {
			return defs[i].File < defs[j].File
		}
		return defs[i].Line < defs[j].Line
	})

	result := models.SuccessResult(map[string]any{
		"definitions":   defs,
		"files_scanned": scanned,
	})
	result.Metadata = map[string]any{"definition_count": len(defs)}
	return result
}
