package flight

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// element is a minimal in-memory XML element. Names carry resolved namespace
// URIs. text holds the character data that precedes the first child element.
type element struct {
	name     xml.Name
	attrs    []xml.Attr
	text     string
	children []*element
}

var errEmptyDocument = errors.New("xml: no root element")

const xmlNamespaceURI = "http://www.w3.org/XML/1998/namespace"

// parseTree decodes src into an element tree. Any syntax error, including
// unbalanced tags and prefixes with no namespace declaration in scope, fails
// the whole parse.
func parseTree(src string) (*element, error) {
	dec := xml.NewDecoder(strings.NewReader(src))
	var (
		root  *element
		stack []*element
		text  strings.Builder
		// namespace URIs declared on each open element
		scopes [][]string
	)
	bound := func(space string) bool {
		if space == "" {
			return true
		}
		for _, declared := range scopes {
			if slices.Contains(declared, space) {
				return true
			}
		}
		return false
	}
	flush := func() {
		if len(stack) == 0 {
			text.Reset()
			return
		}
		top := stack[len(stack)-1]
		if len(top.children) == 0 && text.Len() > 0 {
			top.text += text.String()
		}
		text.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			flush()
			var declared []string
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					declared = append(declared, a.Value)
				}
			}
			scopes = append(scopes, declared)
			// the decoder leaves an undeclared prefix in Name.Space
			if !bound(t.Name.Space) {
				return nil, fmt.Errorf("xml: unbound prefix %q on element %s", t.Name.Space, t.Name.Local)
			}
			for _, a := range t.Attr {
				switch a.Name.Space {
				case "", "xmlns", xmlNamespaceURI:
					continue
				}
				if !bound(a.Name.Space) {
					return nil, fmt.Errorf("xml: unbound prefix %q on attribute %s", a.Name.Space, a.Name.Local)
				}
			}
			el := &element{name: t.Name, attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("xml: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			flush()
			stack = stack[:len(stack)-1]
			scopes = scopes[:len(scopes)-1]
		case xml.CharData:
			text.Write(t)
		}
	}
	if root == nil {
		return nil, errEmptyDocument
	}
	if len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// find returns the first descendant of e, in document order, with the given
// namespace and local name. e itself is not considered.
func (e *element) find(space, local string) *element {
	for _, c := range e.children {
		if c.name.Space == space && c.name.Local == local {
			return c
		}
		if hit := c.find(space, local); hit != nil {
			return hit
		}
	}
	return nil
}

// attr returns the value of an unqualified attribute.
func (e *element) attr(local string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}
