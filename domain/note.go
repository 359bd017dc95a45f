// server/domain/note.go
package domain

import "time"

type Note struct {
	ID        string    `json:"id" yaml:"id"`
	OwnerID   string    `json:"owner_id" yaml:"owner_id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"-"`
	Tags      []string  `json:"tags" yaml:"tags"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so store snapshots never share tag slices.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	return &c
}

// TagCounter tracks how many of an owner's notes carry TagName exactly.
type TagCounter struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	TagName string `json:"tag_name"`
	Count   int64  `json:"count"`
}

func (c *TagCounter) Clone() *TagCounter {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// TagNode is one entry of the tag tree. It is derived from the counters and
// rebuilt on every tag snapshot.
type TagNode struct {
	FullName    string     `json:"full_name"`
	DisplayName string     `json:"display_name"`
	Depth       int        `json:"depth"`
	Count       int64      `json:"count"`
	Children    []*TagNode `json:"children"`
	Expanded    bool       `json:"expanded"`
}
