// Package editapply applies workspace edits to files on disk.
package editapply

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"lspmux/internal/errors"
	"lspmux/internal/lsp"
)

// Result reports the outcome of an apply. Modified is populated even
// when the apply aborts partway: files already written stay written.
type Result struct {
	Modified []string `json:"modified"`
	Backups  []string `json:"backups,omitempty"`
}

// Options controls edit application
type Options struct {
	// Backup copies each file to <name>.bak before writing
	Backup bool
}

// Apply applies the edits grouped by URI. Each file is read once, every
// edit's line/character position is converted to a byte offset, and the
// edits are spliced from highest start offset to lowest so earlier
// splices never shift the positions of later ones. Each rewritten file
// is staged as a temporary sibling and atomically renamed into place.
// A failure on any file aborts the whole apply; the returned Result
// still lists the files that were already modified.
func Apply(editsByURI map[string][]lsp.TextEdit, opts Options) (*Result, error) {
	// Deterministic file order so partial failures are reproducible
	uris := make([]string, 0, len(editsByURI))
	for uri := range editsByURI {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	result := &Result{}
	for _, uri := range uris {
		edits := editsByURI[uri]
		if len(edits) == 0 {
			continue
		}
		path := lsp.URIToPath(uri)

		backup, err := applyFile(path, edits, opts.Backup)
		if err != nil {
			return result, errors.New(errors.EditFailed,
				fmt.Sprintf("failed to apply edits to %s", path), err).
				WithDetails(map[string]interface{}{
					"file":            path,
					"alreadyModified": append([]string{}, result.Modified...),
				})
		}
		result.Modified = append(result.Modified, path)
		if backup != "" {
			result.Backups = append(result.Backups, backup)
		}
	}
	return result, nil
}

// applyFile rewrites one file and returns the backup path, if any
func applyFile(path string, edits []lsp.TextEdit, backup bool) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	updated, err := ApplyToContent(string(content), edits)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	mode := info.Mode().Perm()

	backupPath := ""
	if backup {
		backupPath = path + ".bak"
		if err := os.WriteFile(backupPath, content, mode); err != nil {
			return "", err
		}
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, []byte(updated), mode); err != nil {
		return backupPath, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return backupPath, err
	}
	return backupPath, nil
}

// ApplyToContent applies the edits to an in-memory document. Edits are
// sorted by descending start offset before splicing; an edit whose
// start lies past its end, or whose position falls outside the
// document, is rejected.
func ApplyToContent(content string, edits []lsp.TextEdit) (string, error) {
	starts := lineStarts(content)

	type span struct {
		start, end int
		text       string
	}
	spans := make([]span, 0, len(edits))
	for _, edit := range edits {
		start, err := offsetOf(content, starts, edit.Range.Start)
		if err != nil {
			return "", err
		}
		end, err := offsetOf(content, starts, edit.Range.End)
		if err != nil {
			return "", err
		}
		if start > end {
			return "", fmt.Errorf("edit range start %d:%d lies past end %d:%d",
				edit.Range.Start.Line, edit.Range.Start.Character,
				edit.Range.End.Line, edit.Range.End.Character)
		}
		spans = append(spans, span{start, end, edit.NewText})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	for _, s := range spans {
		content = content[:s.start] + s.text + content[s.end:]
	}
	return content, nil
}

// lineStarts returns the byte offset of the start of each line
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetOf converts a line/character position to a byte offset,
// clamping the character to the document end.
func offsetOf(content string, starts []int, pos lsp.Position) (int, error) {
	if pos.Line < 0 || pos.Line >= len(starts) {
		return 0, fmt.Errorf("line %d out of range (document has %d lines)", pos.Line, len(starts))
	}
	if pos.Character < 0 {
		return 0, fmt.Errorf("negative character %d at line %d", pos.Character, pos.Line)
	}
	off := starts[pos.Line] + pos.Character
	if off > len(content) {
		off = len(content)
	}
	return off, nil
}
