// server/filesystem/parser.go
package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
	"gopkg.in/yaml.v3"
)

var ErrNoFrontmatter = errors.New("invalid frontmatter format")

var delimiter = []byte("---")

// DecodeNote parses a markdown document that starts with a YAML frontmatter
// block. The body after the closing delimiter becomes the note content.
func DecodeNote(data []byte) (*domain.Note, error) {
	data = bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(data, delimiter) {
		return nil, ErrNoFrontmatter
	}
	rest := data[len(delimiter):]
	end := bytes.Index(rest, append([]byte("\n"), delimiter...))
	if end < 0 {
		return nil, ErrNoFrontmatter
	}

	note := &domain.Note{}
	if err := yaml.Unmarshal(rest[:end], note); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	body := rest[end+1+len(delimiter):]
	note.Content = string(bytes.TrimSpace(body))
	return note, nil
}

// EncodeNote renders a note as YAML frontmatter followed by its content.
func EncodeNote(note *domain.Note) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(note); err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	buf.WriteString("---\n\n")
	buf.WriteString(note.Content)
	if note.Content != "" && !strings.HasSuffix(note.Content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func ReadNote(path string) (*domain.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	note, err := DecodeNote(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return note, nil
}

// Skipped is a markdown file ListNotes could not parse.
type Skipped struct {
	Path string
	Err  error
}

// ListNotes reads every .md file under dir, recursively. Files that fail to
// parse are returned in skipped instead of failing the walk.
func ListNotes(dir string) (notes []*domain.Note, skipped []Skipped, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		note, err := ReadNote(path)
		if err != nil {
			skipped = append(skipped, Skipped{Path: path, Err: err})
			return nil
		}
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return notes, skipped, nil
}
