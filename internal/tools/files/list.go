package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// ListEntry describes one file or directory in a listing.
type ListEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
}

// Listing is the split result of list_files.
type Listing struct {
	Files       []ListEntry `json:"files"`
	Directories []ListEntry `json:"directories"`
}

// List returns the files and directories under dir, one level deep or
// recursively, each sorted by name. Junk entries are excluded.
func List(dir string, recursive bool) *models.ToolResult {
	listing := Listing{Files: []ListEntry{}, Directories: []ListEntry{}}

	collect := func(path string, d fs.DirEntry) {
		info, err := d.Info()
		entry := ListEntry{Name: filepath.ToSlash(path)}
		if err == nil {
			entry.Size = info.Size()
			entry.Modified = info.ModTime()
		}
		if d.IsDir() {
			entry.Size = 0
			listing.Directories = append(listing.Directories, entry)
		} else {
			listing.Files = append(listing.Files, entry)
		}
	}

	if recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == dir {
				return nil
			}
			if skipEntry(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = path
			}
			collect(rel, d)
			return nil
		})
		if err != nil {
			return listError(dir, err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return listError(dir, err)
		}
		for _, d := range entries {
			if skipEntry(d.Name()) {
				continue
			}
			collect(d.Name(), d)
		}
	}

	sort.Slice(listing.Files, func(i, j int) bool {
		return listing.Files[i].Name < listing.Files[j].Name
	})
	sort.Slice(listing.Directories, func(i, j int) bool {
		return listing.Directories[i].Name < listing.Directories[j].Name
	})

	result := models.SuccessResult(listing)
	result.Metadata = map[string]any{
		"file_count":      len(listing.Files),
		"directory_count": len(listing.Directories),
	}
	return result
}

func listError(dir string, err error) *models.ToolResult {
	switch {
	case os.IsNotExist(err):
		return models.ErrorResult(protocol.ErrCodeFileNotFound, fmt.Sprintf("directory not found: %s", dir))
	case os.IsPermission(err):
		return models.ErrorResult(protocol.ErrCodePermissionDenied, fmt.Sprintf("permission denied: %s", dir))
	default:
		return models.ErrorResult(protocol.ErrCodeToolExecution, fmt.Sprintf("list %s: %v", dir, err))
	}
}
