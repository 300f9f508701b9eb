// Package format provides the structured-output sinks behind tracker dumps.
//
// Both formatters build an in-memory document tree from Formatter calls and
// render it on demand:
//   - JSONFormatter renders RFC 8785 canonical JSON (sorted keys, NFC
//     strings), used for golden files and archived dumps.
//   - YAMLFormatter renders YAML preserving section order, for operators.
//
// The first section opened becomes the document root; its name is dropped,
// matching how admin-socket dumps look. Sections opened inside an array are
// anonymous elements.
package format

import "fmt"

type nodeKind int

const (
	kindObject nodeKind = iota + 1
	kindArray
	kindString
	kindInt
)

type node struct {
	kind     nodeKind
	name     string
	str      string
	num      int64
	children []*node
}

// builder implements the section bookkeeping shared by both formatters.
type builder struct {
	root  *node
	stack []*node
	err   error
}

func (b *builder) open(kind nodeKind, name string) {
	n := &node{kind: kind, name: name}
	if len(b.stack) == 0 {
		if b.root != nil {
			b.fail("second top-level section %q", name)
			return
		}
		b.root = n
		b.stack = append(b.stack, n)
		return
	}
	b.add(n)
	b.stack = append(b.stack, n)
}

func (b *builder) close() {
	if len(b.stack) == 0 {
		b.fail("close without open section")
		return
	}
	b.stack = b.stack[:len(b.stack)-1]
}

func (b *builder) leaf(n *node) {
	if len(b.stack) == 0 {
		// Bare leaves get an implicit object root.
		b.root = &node{kind: kindObject}
		b.stack = append(b.stack, b.root)
	}
	b.add(n)
}

func (b *builder) add(n *node) {
	parent := b.stack[len(b.stack)-1]
	parent.children = append(parent.children, n)
}

func (b *builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// document returns the finished tree or an error for unbalanced sections.
func (b *builder) document() (*node, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.root == nil {
		return &node{kind: kindObject}, nil
	}
	if len(b.stack) != 0 && !(len(b.stack) == 1 && b.stack[0] == b.root && b.root.name == "") {
		return nil, fmt.Errorf("%d section(s) left open", len(b.stack))
	}
	return b.root, nil
}

func (b *builder) reset() {
	b.root = nil
	b.stack = nil
	b.err = nil
}
