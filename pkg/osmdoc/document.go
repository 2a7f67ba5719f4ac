// Package osmdoc holds the generic element tree of a fetched OSM XML
// document. It keeps every attribute as it appeared so that consumers can
// tell a missing attribute from an empty one.
package osmdoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ErrNoRoot is returned when the input contains no root element.
var ErrNoRoot = errors.New("document has no root element")

// Element is one XML element with its attributes and child elements.
// Character data is not retained.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Children []*Element
}

// Attr returns the value of the named attribute and whether it was present.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// ChildrenNamed returns the direct children with the given element name,
// in document order.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Document is a parsed XML document.
type Document struct {
	Root *Element
}

// Decode reads a whole XML document into an element tree.
func Decode(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	var (
		root  *Element
		stack []*Element
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, Attrs: t.Copy().Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("decoding xml: second root element <%s>", el.Name)
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, ErrNoRoot
	}
	return &Document{Root: root}, nil
}

// Parse decodes a document held in memory.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}
