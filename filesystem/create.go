// server/filesystem/create.go
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ViniZap4/tagkosha-server/domain"
)

// WriteNote writes note to dir as <id>.md and returns the file path.
func WriteNote(dir string, note *domain.Note) (string, error) {
	if note.ID == "" {
		return "", fmt.Errorf("note has no id")
	}
	data, err := EncodeNote(note)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, note.ID+".md")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ExportNotes writes every note to dir and returns how many were written.
func ExportNotes(dir string, notes []*domain.Note) (int, error) {
	for i, n := range notes {
		if _, err := WriteNote(dir, n); err != nil {
			return i, fmt.Errorf("export note %s: %w", n.ID, err)
		}
	}
	return len(notes), nil
}
