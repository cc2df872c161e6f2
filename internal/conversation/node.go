package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemID is the fixed key of the system node. It is the true root of every
// conversation and is never part of a resolved path.
const SystemID = "system"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ContentType tags the kind of body a message carries. Only text exists today.
type ContentType string

const ContentTypeText ContentType = "text"

// Content is the tagged body of a message.
type Content struct {
	ContentType ContentType `json:"contentType"`
	Body        string      `json:"body"`
}

// Text builds a plain text content value.
func Text(body string) Content {
	return Content{ContentType: ContentTypeText, Body: body}
}

// Parent links a node to its parent: either Root or ChildOf(id).
// The zero value is Root.
type Parent struct {
	id string
	ok bool
}

// Root is the parent marker of a node that has no parent.
func Root() Parent { return Parent{} }

// ChildOf links a node under the node with the given id. An empty id yields Root.
func ChildOf(id string) Parent {
	if id == "" {
		return Root()
	}
	return Parent{id: id, ok: true}
}

// ID returns the parent id and true, or "" and false for Root.
func (p Parent) ID() (string, bool) { return p.id, p.ok }

// IsRoot reports whether p is the Root marker.
func (p Parent) IsRoot() bool { return !p.ok }

func (p Parent) String() string {
	if !p.ok {
		return "<root>"
	}
	return p.id
}

func (p Parent) MarshalJSON() ([]byte, error) {
	if !p.ok {
		return []byte("null"), nil
	}
	return json.Marshal(p.id)
}

func (p *Parent) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Root()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("parent must be null or a string: %w", err)
	}
	*p = ChildOf(id)
	return nil
}

// MessageNode is one turn of a conversation. Children are ordered by creation;
// Children[0] is the default branch.
type MessageNode struct {
	ID         string   `json:"-"`
	Role       Role     `json:"role"`
	Content    Content  `json:"content"`
	Model      string   `json:"model"`
	Parent     Parent   `json:"parent"`
	Children   []string `json:"children"`
	CreateTime int64    `json:"createTime,omitempty"` // unix millis
}

type messageNodeAlias MessageNode

func (n MessageNode) MarshalJSON() ([]byte, error) {
	a := messageNodeAlias(n)
	if a.Children == nil {
		a.Children = []string{}
	}
	return json.Marshal(a)
}

func (n *MessageNode) clone() *MessageNode {
	c := *n
	c.Children = append([]string{}, n.Children...)
	return &c
}

// Map holds every node of one conversation keyed by node id. A Map is owned by
// a single conversation session at a time and is not safe for concurrent use.
type Map map[string]*MessageNode

// New returns a map holding only the system node.
func New(model string, now time.Time) Map {
	return Map{
		SystemID: {
			ID:         SystemID,
			Role:       RoleSystem,
			Content:    Text(""),
			Model:      model,
			Parent:     Root(),
			Children:   []string{},
			CreateTime: now.UnixMilli(),
		},
	}
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// Get returns the node stored under id. A nil entry counts as absent.
func (m Map) Get(id string) (*MessageNode, bool) {
	n, ok := m[id]
	return n, ok && n != nil
}

// has reports whether id names a non-nil node.
func (m Map) has(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for id, n := range m {
		if n == nil {
			continue
		}
		out[id] = n.clone()
	}
	return out
}

// UnmarshalJSON decodes the persisted form and restores each node's ID from its key.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]*MessageNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Map, len(raw))
	for id, n := range raw {
		if n == nil {
			continue
		}
		n.ID = id
		if n.Children == nil {
			n.Children = []string{}
		}
		out[id] = n
	}
	*m = out
	return nil
}
