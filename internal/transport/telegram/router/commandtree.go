package router

import (
	"maps"
	"slices"
	"strings"
)

// cmdNode is one word of a command route such as "editors add". Inner
// nodes may carry a command of their own.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

// add installs c at route, creating inner nodes on the way.
func (n *cmdNode) add(route []string, c Command) *cmdNode {
	for _, word := range route {
		next := n.children[word]
		if next == nil {
			next = &cmdNode{name: word, children: map[string]*cmdNode{}}
			n.children[word] = next
		}
		n = next
	}
	n.cmd = &c
	return n
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string { return slices.Sorted(maps.Keys(n.children)) }

// walk resolves first and then consumes args for as long as they name
// subcommands. Flags (key=value or -x) end the descent. It returns the
// deepest node reached, the words consumed and the args left over.
func (n *cmdNode) walk(first string, args []string) (*cmdNode, []string, []string, bool) {
	cur, ok := n.child(first)
	if !ok {
		return nil, nil, args, false
	}
	path := []string{first}
	for ; len(args) > 0; args = args[1:] {
		word := args[0]
		if strings.HasPrefix(word, "-") || strings.Contains(word, "=") {
			break
		}
		next, ok := cur.child(word)
		if !ok {
			break
		}
		cur, path = next, append(path, word)
	}
	return cur, path, args, true
}
