package conversation

import (
	"slices"
	"time"
)

// Draft carries the caller-supplied fields of a node about to be added.
type Draft struct {
	Role       Role
	Content    Content
	Model      string
	CreateTime time.Time
}

// Append adds a node built from d under parent using a fresh id and returns
// that id. See Insert for how the parent link is settled.
func (m Map) Append(parent Parent, d Draft) string {
	id := NewID()
	m.Insert(id, parent, d)
	return id
}

// Insert adds a node with the given id. When parent names a node in the map,
// the new id is appended to that node's children, after any existing siblings.
// Otherwise (Root, or a parent that is not in the map) the node is stored as a
// root of its own. Insert refuses an empty id or one already in use.
func (m Map) Insert(id string, parent Parent, d Draft) bool {
	if id == "" {
		return false
	}
	if m.has(id) {
		return false
	}

	node := &MessageNode{
		ID:       id,
		Role:     d.Role,
		Content:  d.Content,
		Model:    d.Model,
		Parent:   Root(),
		Children: []string{},
	}
	if !d.CreateTime.IsZero() {
		node.CreateTime = d.CreateTime.UnixMilli()
	}
	if parentID, ok := parent.ID(); ok {
		if p, exists := m.Get(parentID); exists {
			p.Children = append(p.Children, id)
			node.Parent = ChildOf(parentID)
		}
	}
	m[id] = node
	return true
}

// Remove deletes id and every node reachable from it through children links,
// then strips the deleted ids from the children of the nodes that remain. It
// returns the deleted ids in depth-first order, or nil when id is not in the map.
func (m Map) Remove(id string) []string {
	if !m.has(id) {
		return nil
	}

	var removed []string
	seen := make(map[string]struct{})
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[cur]; dup {
			continue
		}
		n, ok := m.Get(cur)
		if !ok {
			continue
		}
		seen[cur] = struct{}{}
		removed = append(removed, cur)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}

	for _, r := range removed {
		delete(m, r)
	}
	for _, n := range m {
		if n == nil {
			continue
		}
		n.Children = slices.DeleteFunc(n.Children, func(c string) bool {
			_, gone := seen[c]
			return gone
		})
	}
	return removed
}

// Edit replaces the body of a node in place. Nothing else about the node
// changes. It reports whether the node exists.
func (m Map) Edit(id, body string) bool {
	n, ok := m.Get(id)
	if !ok {
		return false
	}
	n.Content.Body = body
	return true
}
