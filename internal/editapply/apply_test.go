package editapply

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"lspmux/internal/errors"
	"lspmux/internal/lsp"
)

func edit(startLine, startChar, endLine, endChar int, text string) lsp.TextEdit {
	return lsp.TextEdit{
		Range: lsp.Range{
			Start: lsp.Position{Line: startLine, Character: startChar},
			End:   lsp.Position{Line: endLine, Character: endChar},
		},
		NewText: text,
	}
}

// TestApplyToContentTwoLines verifies two single-line replacements land
// on the right lines.
func TestApplyToContentTwoLines(t *testing.T) {
	got, err := ApplyToContent("World\nfoo\n", []lsp.TextEdit{
		edit(0, 0, 0, 5, "Hello"),
		edit(1, 0, 1, 3, "X"),
	})
	if err != nil {
		t.Fatalf("ApplyToContent failed: %v", err)
	}
	if got != "Hello\nX\n" {
		t.Errorf("got %q, want %q", got, "Hello\nX\n")
	}
}

// TestApplyOrderIndependence verifies the same edits produce the same
// output regardless of input order, because splicing runs from highest
// start offset to lowest.
func TestApplyOrderIndependence(t *testing.T) {
	edits := []lsp.TextEdit{
		edit(0, 0, 0, 3, "one"),
		edit(1, 0, 1, 3, "two"),
		edit(2, 0, 2, 3, "three"),
	}
	content := "aaa\nbbb\nccc\n"

	want, err := ApplyToContent(content, edits)
	if err != nil {
		t.Fatal(err)
	}

	reversed := []lsp.TextEdit{edits[2], edits[1], edits[0]}
	got, err := ApplyToContent(content, reversed)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("reversed input produced %q, want %q", got, want)
	}
}

// TestAscendingSpliceIsWrong demonstrates why edits must be spliced in
// descending offset order: an ascending splice with unadjusted offsets
// corrupts the document once an edit changes its length.
func TestAscendingSpliceIsWrong(t *testing.T) {
	content := "ab\ncd\n"
	edits := []lsp.TextEdit{
		edit(0, 0, 0, 2, "longer"), // grows line 0 by four bytes
		edit(1, 0, 1, 2, "XY"),
	}

	correct, err := ApplyToContent(content, edits)
	if err != nil {
		t.Fatal(err)
	}
	if correct != "longer\nXY\n" {
		t.Fatalf("descending splice produced %q", correct)
	}

	// Simulate the naive ascending strategy on precomputed offsets
	starts := lineStarts(content)
	naive := content
	for _, e := range edits {
		s := starts[e.Range.Start.Line] + e.Range.Start.Character
		end := starts[e.Range.End.Line] + e.Range.End.Character
		naive = naive[:s] + e.NewText + naive[end:]
	}
	if naive == correct {
		t.Fatal("ascending splice unexpectedly matched; the regression this guards is gone")
	}
}

// TestApplyToContentRejectsInvertedRange verifies start past end fails
func TestApplyToContentRejectsInvertedRange(t *testing.T) {
	_, err := ApplyToContent("hello\n", []lsp.TextEdit{edit(0, 4, 0, 1, "x")})
	if err == nil {
		t.Fatal("expected error for inverted range")
	}
}

// TestApplyToContentRejectsLineOutOfRange verifies a position beyond
// the last line fails.
func TestApplyToContentRejectsLineOutOfRange(t *testing.T) {
	_, err := ApplyToContent("hello\n", []lsp.TextEdit{edit(9, 0, 9, 1, "x")})
	if err == nil {
		t.Fatal("expected error for out-of-range line")
	}
}

// TestApplyToContentRejectsNegativeCharacter verifies a negative
// character position fails instead of panicking on the splice.
func TestApplyToContentRejectsNegativeCharacter(t *testing.T) {
	_, err := ApplyToContent("hello\n", []lsp.TextEdit{edit(0, -1, 0, 0, "x")})
	if err == nil {
		t.Fatal("expected error for negative character")
	}
	_, err = ApplyToContent("hello\n", []lsp.TextEdit{edit(0, 0, 0, -2, "x")})
	if err == nil {
		t.Fatal("expected error for negative end character")
	}
}

// TestApplyInsertion verifies a zero-width range inserts text
func TestApplyInsertion(t *testing.T) {
	got, err := ApplyToContent("ac\n", []lsp.TextEdit{edit(0, 1, 0, 1, "b")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc\n" {
		t.Errorf("got %q, want %q", got, "abc\n")
	}
}

// TestApplyWritesFilesAtomically verifies a full apply rewrites the
// files and reports them.
func TestApplyWritesFilesAtomically(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "greet.txt")
	if err := os.WriteFile(path, []byte("World\nfoo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Apply(map[string][]lsp.TextEdit{
		lsp.PathToURI(path): {
			edit(0, 0, 0, 5, "Hello"),
			edit(1, 0, 1, 3, "X"),
		},
	}, Options{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(result.Modified) != 1 || result.Modified[0] != path {
		t.Errorf("Modified = %v, want [%s]", result.Modified, path)
	}
	if len(result.Backups) != 0 {
		t.Errorf("unexpected backups %v", result.Backups)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "Hello\nX\n" {
		t.Errorf("file content %q, want %q", content, "Hello\nX\n")
	}

	// No temp droppings left behind
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("stray files after apply: %v", names)
	}
}

// TestApplyBackup verifies the backup option preserves the original
func TestApplyBackup(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "code.go")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Apply(map[string][]lsp.TextEdit{
		lsp.PathToURI(path): {edit(0, 0, 0, 3, "new")},
	}, Options{Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Backups) != 1 || result.Backups[0] != path+".bak" {
		t.Errorf("Backups = %v, want [%s]", result.Backups, path+".bak")
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatal(err)
	}
	if string(backup) != "old\n" {
		t.Errorf("backup content %q, want %q", backup, "old\n")
	}
}

// TestApplyPartialFailureReportsModified verifies an apply that fails
// on its second file still reports the first as modified.
func TestApplyPartialFailureReportsModified(t *testing.T) {
	tmp := t.TempDir()
	good := filepath.Join(tmp, "a.txt")
	if err := os.WriteFile(good, []byte("aaa\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(tmp, "b.txt") // never created

	result, err := Apply(map[string][]lsp.TextEdit{
		lsp.PathToURI(good):    {edit(0, 0, 0, 3, "AAA")},
		lsp.PathToURI(missing): {edit(0, 0, 0, 1, "x")},
	}, Options{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if errors.CodeOf(err) != errors.EditFailed {
		t.Errorf("expected EditFailed, got %s", errors.CodeOf(err))
	}

	// Files are processed in sorted URI order, so a.txt went first
	want := []string{good}
	got := append([]string{}, result.Modified...)
	sort.Strings(got)
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Modified = %v, want %v", result.Modified, want)
	}

	content, _ := os.ReadFile(good)
	if string(content) != "AAA\n" {
		t.Errorf("already-applied file was %q, want %q", content, "AAA\n")
	}
}
