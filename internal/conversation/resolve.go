package conversation

import (
	"slices"
	"sort"
)

// TruncationReason explains why a walk over the map stopped early.
type TruncationReason string

const (
	// TruncatedDanglingParent: a parent link points at an id that is not in the map.
	TruncatedDanglingParent TruncationReason = "dangling_parent"
	// TruncatedCycle: a link leads back to a node already on the path.
	TruncatedCycle TruncationReason = "cycle"
	// TruncatedMissingChild: the default child is listed but not in the map.
	TruncatedMissingChild TruncationReason = "missing_child"
)

// Truncation records where a walk stopped (NodeID) and the reference it
// refused to follow (Ref).
type Truncation struct {
	Reason TruncationReason `json:"reason"`
	NodeID string           `json:"nodeId"`
	Ref    string           `json:"ref"`
}

// PathNode is a node as emitted on a resolved path, annotated with the ids of
// its siblings (its in-path parent's children, itself included).
type PathNode struct {
	ID         string   `json:"id"`
	Role       Role     `json:"role"`
	Content    Content  `json:"content"`
	Model      string   `json:"model"`
	Parent     Parent   `json:"parent"`
	Children   []string `json:"children"`
	CreateTime int64    `json:"createTime,omitempty"`
	Sibling    []string `json:"sibling"`
}

// Path is the linear root-to-leaf view of a conversation. Truncations is empty
// when every link along the way was intact.
type Path struct {
	Nodes       []PathNode   `json:"messages"`
	Truncations []Truncation `json:"truncations,omitempty"`
}

// Complete reports whether the path was resolved without truncation.
func (p Path) Complete() bool { return len(p.Truncations) == 0 }

// IDs returns the ids of the emitted nodes in order.
func (p Path) IDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Last returns the final node of the path.
func (p Path) Last() (PathNode, bool) {
	if len(p.Nodes) == 0 {
		return PathNode{}, false
	}
	return p.Nodes[len(p.Nodes)-1], true
}

// SiblingIndex returns the position of the node among its siblings.
func (n PathNode) SiblingIndex() int {
	return slices.Index(n.Sibling, n.ID)
}

// Resolve derives the path to display for selectedID.
//
// When selectedID is in the map the path runs from its topmost reachable
// ancestor down to it, then continues through first children to a leaf. When it
// is not, the walk starts at the structural root and always takes the first
// child. Broken links and cycles end the walk where they occur; they are
// reported in Path.Truncations and never cause a failure. The system node is
// never emitted.
func Resolve(m Map, selectedID string) Path {
	var p Path
	start := selectedID
	if !m.has(start) {
		var ok bool
		if start, ok = structuralRoot(m); !ok {
			return p
		}
	}

	visited := make(map[string]struct{}, len(m))
	chain := p.ancestry(m, start, visited)
	chain, truncatedBelow := p.descend(m, chain, visited)

	p.Nodes = make([]PathNode, 0, len(chain))
	for i, id := range chain {
		if id == SystemID {
			continue
		}
		n := m[id]
		pn := PathNode{
			ID:         id,
			Role:       n.Role,
			Content:    n.Content,
			Model:      n.Model,
			Parent:     n.Parent,
			Children:   append([]string{}, n.Children...),
			CreateTime: n.CreateTime,
		}
		if i == 0 {
			pn.Parent = Root()
			pn.Sibling = []string{id}
		} else {
			pn.Sibling = append([]string{}, m[chain[i-1]].Children...)
			if !slices.Contains(pn.Sibling, id) {
				pn.Sibling = append(pn.Sibling, id)
			}
		}
		if truncatedBelow && i == len(chain)-1 {
			pn.Children = slices.DeleteFunc(pn.Children, func(c string) bool {
				_, onPath := visited[c]
				return onPath || !m.has(c)
			})
		}
		p.Nodes = append(p.Nodes, pn)
	}
	return p
}

// ancestry walks parent links upward from id and returns the chain ordered
// top-down, ending at id.
func (p *Path) ancestry(m Map, id string, visited map[string]struct{}) []string {
	visited[id] = struct{}{}
	chain := []string{id}
	cur := id
	for {
		parentID, ok := m[cur].Parent.ID()
		if !ok {
			break
		}
		if !m.has(parentID) {
			p.Truncations = append(p.Truncations, Truncation{Reason: TruncatedDanglingParent, NodeID: cur, Ref: parentID})
			break
		}
		if _, seen := visited[parentID]; seen {
			p.Truncations = append(p.Truncations, Truncation{Reason: TruncatedCycle, NodeID: cur, Ref: parentID})
			break
		}
		visited[parentID] = struct{}{}
		chain = append(chain, parentID)
		cur = parentID
	}
	slices.Reverse(chain)
	return chain
}

// descend extends chain through first children until a leaf or a broken link.
func (p *Path) descend(m Map, chain []string, visited map[string]struct{}) ([]string, bool) {
	cur := chain[len(chain)-1]
	for {
		children := m[cur].Children
		if len(children) == 0 {
			return chain, false
		}
		next := children[0]
		if !m.has(next) {
			p.Truncations = append(p.Truncations, Truncation{Reason: TruncatedMissingChild, NodeID: cur, Ref: next})
			return chain, true
		}
		if _, seen := visited[next]; seen {
			p.Truncations = append(p.Truncations, Truncation{Reason: TruncatedCycle, NodeID: cur, Ref: next})
			return chain, true
		}
		visited[next] = struct{}{}
		chain = append(chain, next)
		cur = next
	}
}

// structuralRoot picks a deterministic starting node for a map: the system
// node when it is a root, else the smallest root id, else the smallest id whose
// parent is missing, else the smallest id overall. It reports false when the
// map holds no nodes.
func structuralRoot(m Map) (string, bool) {
	if n, ok := m.Get(SystemID); ok && n.Parent.IsRoot() {
		return SystemID, true
	}
	ids := make([]string, 0, len(m))
	for id, n := range m {
		if n != nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m[id].Parent.IsRoot() {
			return id, true
		}
	}
	for _, id := range ids {
		parentID, _ := m[id].Parent.ID()
		if !m.has(parentID) {
			return id, true
		}
	}
	return ids[0], true
}
