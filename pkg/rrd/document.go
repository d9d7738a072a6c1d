package rrd

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedArchive is returned for documents that cannot be turned into samples
var ErrMalformedArchive = errors.New("malformed archive")

// NodeKind distinguishes element nodes from comment nodes
type NodeKind uint8

const (
	ElementNode NodeKind = iota
	CommentNode
)

// Node is one entry of the document arena.
// Children are indexes into Document.Nodes, in document order.
type Node struct {
	Kind     NodeKind
	Name     string // element name, empty for comments
	Text     string // trimmed character data, or the comment body
	Children []int
}

// Document is a parsed archive dump stored as a flat arena of nodes.
// Node 0 is the root element.
type Document struct {
	Nodes []Node
}

// Parse reads an XML archive dump into an arena.
// Nesting is tracked with an explicit stack, so deeply nested input
// cannot exhaust the goroutine stack.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)

	doc := &Document{}
	var stack []int
	var text []*strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && len(doc.Nodes) > 0 {
				return nil, fmt.Errorf("%w: multiple root elements", ErrMalformedArchive)
			}
			idx := doc.add(Node{Kind: ElementNode, Name: t.Name.Local})
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				doc.Nodes[parent].Children = append(doc.Nodes[parent].Children, idx)
			}
			stack = append(stack, idx)
			text = append(text, &strings.Builder{})

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected </%s>", ErrMalformedArchive, t.Name.Local)
			}
			top := stack[len(stack)-1]
			doc.Nodes[top].Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]

		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}

		case xml.Comment:
			if len(stack) == 0 {
				continue // comments outside the root carry nothing we use
			}
			idx := doc.add(Node{Kind: CommentNode, Text: strings.TrimSpace(string(t))})
			parent := stack[len(stack)-1]
			doc.Nodes[parent].Children = append(doc.Nodes[parent].Children, idx)
		}
	}

	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedArchive)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed <%s>", ErrMalformedArchive, doc.Nodes[stack[len(stack)-1]].Name)
	}

	return doc, nil
}

func (d *Document) add(n Node) int {
	d.Nodes = append(d.Nodes, n)
	return len(d.Nodes) - 1
}

// Root returns the root element
func (d *Document) Root() *Node {
	return &d.Nodes[0]
}

// Find returns the indexes of all elements with the given name in
// document order, using an explicit depth-first stack. Matching elements
// are not descended into.
func (d *Document) Find(name string) []int {
	var found []int
	stack := []int{0}

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &d.Nodes[idx]
		if n.Kind != ElementNode {
			continue
		}
		if n.Name == name {
			found = append(found, idx)
			continue
		}
		// push in reverse so children pop in document order
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}

	return found
}

// Child returns the first direct child element with the given name
func (d *Document) Child(idx int, name string) (*Node, bool) {
	for _, c := range d.Nodes[idx].Children {
		n := &d.Nodes[c]
		if n.Kind == ElementNode && n.Name == name {
			return n, true
		}
	}
	return nil, false
}
