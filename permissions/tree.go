// Package permissions implements hierarchical, wildcard-based permission
// grants. A grant names a ":"-delimited path into a resource hierarchy
// ("autos:123:comments") plus the actions allowed at that point. Queries walk
// the tree segment by segment.
package permissions

import "strings"

const (
	// Wildcard is the reserved path segment whose grants apply to any
	// concrete sibling not named explicitly.
	Wildcard = "*"
	// AnyAction is the universal action marker; a node granting it
	// satisfies every requested action.
	AnyAction = "*"
)

// Tree is one node of a permission tree: the actions granted at this exact
// path plus the children keyed by the next path segment. The zero value is an
// empty tree granting nothing.
//
// Permit appends to the tree; Can only reads it. A tree embedded in a session
// record must not be modified after the session is published.
type Tree struct {
	Actions  []string         `json:"actions,omitempty"`
	Children map[string]*Tree `json:"children,omitempty"`
}

// NewTree creates an empty permission tree.
func NewTree() *Tree {
	return &Tree{}
}

// Anonymous returns the tree used when no session is held: enough to sign in
// and sign up, nothing else.
func Anonymous() *Tree {
	t := NewTree()
	t.Permit("tokens", "add")
	t.Permit("users", "add")
	return t
}

// Permit grants actions at the node named by path, creating intermediate
// nodes as needed. An empty path grants at the root. Existing grants at the
// node are kept; Permit only ever appends.
func (t *Tree) Permit(path string, actions ...string) {
	node := t
	if path != "" {
		for _, seg := range strings.Split(path, ":") {
			if node.Children == nil {
				node.Children = make(map[string]*Tree)
			}
			child := node.Children[seg]
			if child == nil {
				child = &Tree{}
				node.Children[seg] = child
			}
			node = child
		}
	}
	node.Actions = append(node.Actions, actions...)
}

// Can reports whether the tree grants action on the resource named by path.
//
// At every level the wildcard child's own actions are consulted before
// descending into the concrete child, so a wildcard grant at a shallower
// level always wins over a longer unmatched path. This
// wildcard-at-any-ancestor precedence is deliberate: "a:*" granting "read"
// satisfies Can("a:b:c", "read") without "a:b" existing at all.
func (t *Tree) Can(path, action string) bool {
	if t == nil {
		return false
	}
	var segments []string
	if path != "" {
		segments = strings.Split(path, ":")
	}
	return t.can(segments, action)
}

func (t *Tree) can(segments []string, action string) bool {
	if len(segments) == 0 {
		return granted(t.Actions, action)
	}
	if w := t.Children[Wildcard]; w != nil && granted(w.Actions, action) {
		return true
	}
	child := t.Children[segments[0]]
	if child == nil {
		return false
	}
	return child.can(segments[1:], action)
}

func granted(actions []string, action string) bool {
	for _, a := range actions {
		if a == AnyAction || a == action {
			return true
		}
	}
	return false
}
