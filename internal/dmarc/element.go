package dmarc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/charset"
)

// element is a minimal in-memory xml tree node.
type element struct {
	name     xml.Name
	text     strings.Builder
	children []*element
}

func decodeTree(content []byte) (*element, error) {
	d := xml.NewDecoder(bytes.NewReader(content))
	// reports declaring latin1 and friends are decoded, unknown charsets fail
	d.CharsetReader = charset.Reader

	var root *element
	var stack []*element
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			e := &element{name: t.Name}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("unexpected second root element <%s>", t.Name.Local)
				}
				root = e
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, e)
			}
			stack = append(stack, e)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	if len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// lookup resolves element names against the namespace of the document. It is
// created once per document: documents with a namespaced root match only
// qualified names, documents without one match only unqualified names.
type lookup struct {
	qualify func(local string) xml.Name
}

func newLookup(root *element) lookup {
	space := root.name.Space
	return lookup{
		qualify: func(local string) xml.Name {
			return xml.Name{Space: space, Local: local}
		},
	}
}

func (l lookup) children(e *element, local string) []*element {
	want := l.qualify(local)
	var ret []*element
	for _, c := range e.children {
		if c.name == want {
			ret = append(ret, c)
		}
	}
	return ret
}

func (l lookup) child(e *element, local string) *element {
	want := l.qualify(local)
	for _, c := range e.children {
		if c.name == want {
			return c
		}
	}
	return nil
}

// path follows direct children.
func (l lookup) path(e *element, steps ...string) *element {
	for _, s := range steps {
		if e = l.child(e, s); e == nil {
			return nil
		}
	}
	return e
}

// descendants returns all elements below e named local, in document order.
func (l lookup) descendants(e *element, local string) []*element {
	want := l.qualify(local)
	var ret []*element
	var walk func(*element)
	walk = func(n *element) {
		for _, c := range n.children {
			if c.name == want {
				ret = append(ret, c)
			}
			walk(c)
		}
	}
	walk(e)
	return ret
}

// find locates the first element matching .//first/rest...
func (l lookup) find(e *element, first string, rest ...string) *element {
	for _, d := range l.descendants(e, first) {
		if m := l.path(d, rest...); m != nil {
			return m
		}
	}
	return nil
}

// text returns the trimmed text of the element at .//first/rest... and
// whether it exists.
func (l lookup) text(e *element, first string, rest ...string) (string, bool) {
	m := l.find(e, first, rest...)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m.text.String()), true
}

// childText returns the trimmed text of a direct child.
func (l lookup) childText(e *element, local string) (string, bool) {
	c := l.child(e, local)
	if c == nil {
		return "", false
	}
	return strings.TrimSpace(c.text.String()), true
}
