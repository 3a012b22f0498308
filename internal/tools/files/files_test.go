package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.txt", "one\ntwo\nthree\n")
	result := Read(path, nil)
	if result.IsError() {
		t.Fatalf("read failed: %+v", result.Error)
	}
	if result.Data != "one\ntwo\nthree\n" {
		t.Errorf("unexpected content: %q", result.Data)
	}
}

func TestReadLineRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.txt", "one\ntwo\nthree\n")

	result := Read(path, []int{2, 2})
	if result.IsError() {
		t.Fatalf("read failed: %+v", result.Error)
	}
	if result.Data != "two" {
		t.Errorf("line range [2,2] should return exactly line 2, got %q", result.Data)
	}

	bad := Read(path, []int{2, 9})
	if !bad.IsError() || bad.Error.Code != protocol.ErrCodeInvalidLineRange {
		t.Errorf("out-of-range read should fail with INVALID_LINE_RANGE, got %+v", bad)
	}
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	missing := Read(filepath.Join(dir, "absent.txt"), nil)
	if !missing.IsError() || missing.Error.Code != protocol.ErrCodeFileNotFound {
		t.Errorf("expected FILE_NOT_FOUND, got %+v", missing)
	}

	binary := writeFixture(t, dir, "bin.dat", "ok\xff\xfe\x00bad")
	enc := Read(binary, nil)
	if !enc.IsError() || enc.Error.Code != protocol.ErrCodeEncoding {
		t.Errorf("expected ENCODING_ERROR, got %+v", enc)
	}
}

func TestWriteCreatesAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "new.txt")

	created := Write(path, "hello\n", 1)
	if created.IsError() {
		t.Fatalf("write failed: %+v", created.Error)
	}
	if created.Metadata["created"] != true {
		t.Error("first write should report created=true")
	}
	if _, err := os.Stat(path + BackupSuffix); err == nil {
		t.Error("no backup expected for a new file")
	}

	updated := Write(path, "goodbye\n", 1)
	if updated.IsError() {
		t.Fatalf("overwrite failed: %+v", updated.Error)
	}
	if updated.Metadata["created"] != false {
		t.Error("overwrite should report created=false")
	}
	backup, err := os.ReadFile(path + BackupSuffix)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "hello\n" {
		t.Errorf("backup holds %q, want previous content", backup)
	}
}

func TestWriteEmptyContent(t *testing.T) {
	dir := t.TempDir()
	result := Write(filepath.Join(dir, "empty.txt"), "", 0)
	if result.IsError() {
		t.Fatalf("empty write failed: %+v", result.Error)
	}
	if result.Metadata["bytes"] != 0 {
		t.Errorf("expected 0 bytes, got %v", result.Metadata["bytes"])
	}
}

func TestWriteLineCountMismatch(t *testing.T) {
	dir := t.TempDir()
	result := Write(filepath.Join(dir, "x.txt"), "one\ntwo\n", 5)
	if !result.IsError() || result.Error.Code != protocol.ErrCodeLineCountMismatch {
		t.Errorf("expected LINE_COUNT_MISMATCH, got %+v", result)
	}
}

func TestWriteTrailingNewlineCounting(t *testing.T) {
	dir := t.TempDir()
	// A single trailing newline does not add a line.
	if result := Write(filepath.Join(dir, "a.txt"), "one\ntwo\n", 2); result.IsError() {
		t.Errorf("trailing newline miscounted: %+v", result.Error)
	}
	if result := Write(filepath.Join(dir, "b.txt"), "one\ntwo", 2); result.IsError() {
		t.Errorf("no trailing newline miscounted: %+v", result.Error)
	}
}

func TestInsertContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.txt", "one\nthree\n")

	result := Insert(path, 2, "two")
	if result.IsError() {
		t.Fatalf("insert failed: %+v", result.Error)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "one\ntwo\nthree\n" {
		t.Errorf("unexpected content after insert: %q", got)
	}
	if _, err := os.Stat(path + BackupSuffix); err != nil {
		t.Error("insert must create a backup")
	}

	// Appending at N+1.
	if result := Insert(path, 4, "four"); result.IsError() {
		t.Fatalf("append failed: %+v", result.Error)
	}
	got, _ = os.ReadFile(path)
	if string(got) != "one\ntwo\nthree\nfour\n" {
		t.Errorf("unexpected content after append: %q", got)
	}

	bad := Insert(path, 99, "nope")
	if !bad.IsError() || bad.Error.Code != protocol.ErrCodeInvalidLineRange {
		t.Errorf("expected INVALID_LINE_RANGE, got %+v", bad)
	}
}

func TestSearchReplace(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.txt", "foo bar foo\n")

	result := SearchReplace(path, "foo", "baz")
	if result.IsError() {
		t.Fatalf("replace failed: %+v", result.Error)
	}
	if result.Metadata["replacements"] != 2 {
		t.Errorf("expected 2 replacements, got %v", result.Metadata["replacements"])
	}
	got, _ := os.ReadFile(path)
	if string(got) != "baz bar baz\n" {
		t.Errorf("unexpected content: %q", got)
	}

	missing := SearchReplace(path, "absent", "x")
	if !missing.IsError() || missing.Error.Code != protocol.ErrCodeSearchTextNotFound {
		t.Errorf("expected SEARCH_TEXT_NOT_FOUND, got %+v", missing)
	}
}

func TestSearchFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.go", "package main\n// TODO fix this\n")
	writeFixture(t, dir, "sub/b.go", "package sub\n// todo later\n")
	writeFixture(t, dir, "c.txt", "nothing here\n")
	writeFixture(t, dir, "bin.dat", "data\x00binary")
	writeFixture(t, dir, "node_modules/dep/index.js", "// TODO ignored\n")

	result := Search(dir, "TODO", "*.go")
	if result.IsError() {
		t.Fatalf("search failed: %+v", result.Error)
	}
	data := result.Data.(map[string]any)
	matches := data["matches"].([]Match)
	if len(matches) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %d: %+v", len(matches), matches)
	}
	if data["files_searched"].(int) < 2 {
		t.Errorf("expected files_searched >= 2, got %v", data["files_searched"])
	}
}

func TestSearchNoMatches(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.txt", "hello\n")
	result := Search(dir, "zzz_never_matches", "")
	if result.IsError() {
		t.Fatalf("search failed: %+v", result.Error)
	}
	data := result.Data.(map[string]any)
	if len(data["matches"].([]Match)) != 0 {
		t.Error("expected empty matches")
	}
	if data["files_searched"].(int) == 0 {
		t.Error("expected files_searched > 0")
	}
}

func TestSearchInvalidRegex(t *testing.T) {
	result := Search(t.TempDir(), "([", "")
	if !result.IsError() || result.Error.Code != protocol.ErrCodeInvalidRegex {
		t.Errorf("expected INVALID_REGEX, got %+v", result)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "b.txt", "b")
	writeFixture(t, dir, "a.txt", "a")
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	result := List(dir, false)
	if result.IsError() {
		t.Fatalf("list failed: %+v", result.Error)
	}
	listing := result.Data.(Listing)
	if len(listing.Files) != 2 || listing.Files[0].Name != "a.txt" {
		t.Errorf("files not sorted by name: %+v", listing.Files)
	}
	if len(listing.Directories) != 1 || listing.Directories[0].Name != "sub" {
		t.Errorf("unexpected directories: %+v", listing.Directories)
	}
}

func TestListSkipsJunkDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, ".git/config", "x")
	writeFixture(t, dir, "node_modules/m/index.js", "x")

	result := List(dir, true)
	if result.IsError() {
		t.Fatalf("list failed: %+v", result.Error)
	}
	listing := result.Data.(Listing)
	if len(listing.Files) != 0 || len(listing.Directories) != 0 {
		t.Errorf("expected empty arrays, got %+v", listing)
	}
}

func TestCodeDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "main.go", "package main\n\nfunc main() {}\n\ntype Server struct{}\n")
	writeFixture(t, dir, "app.py", "class App:\n    def run(self):\n        pass\n")

	result := CodeDefinitions(dir)
	if result.IsError() {
		t.Fatalf("scan failed: %+v", result.Error)
	}
	data := result.Data.(map[string]any)
	defs := data["definitions"].([]Definition)
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	for _, want := range []string{"main", "Server", "App", "run"} {
		if !names[want] {
			t.Errorf("missing definition %q in %+v", want, defs)
		}
	}
}

func TestLineCounting(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
		{"one\n\n", 2},
	}
	for _, tt := range tests {
		if got := countLines(tt.content); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}

func TestReadPreservesExactLine(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("line\n", 10)
	path := writeFixture(t, dir, "ten.txt", content)
	result := Read(path, []int{7, 7})
	if result.IsError() || result.Data != "line" {
		t.Errorf("expected exactly line 7, got %+v", result)
	}
}
