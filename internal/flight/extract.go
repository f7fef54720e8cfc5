package flight

import (
	"iter"
	"regexp"
	"strings"
)

// messagePattern matches one <message ...>...</message> span across lines. The
// lazy body keeps consecutive messages apart. Nested or self-closing message
// elements are not supported by the feed and are not handled here.
var messagePattern = regexp.MustCompile(`(?s)<message[^>]*>.*?</message>`)

const (
	unitPrefix = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<ns5:MessageCollection xmlns:ns5="` + NamespaceNAS + `" ` +
		`xmlns:ns2="` + NamespaceBase + `" ` +
		`xmlns:ns3="` + NamespaceFlight + `" ` +
		`xmlns:ns4="` + NamespaceFoundation + `">`
	unitSuffix = `</ns5:MessageCollection>`
)

// Unit is one message span wrapped in a synthetic root that declares the
// namespace prefixes the normalizer expects, so it parses on its own.
type Unit string

// Wrap builds a Unit from a raw <message> span.
func Wrap(span string) Unit {
	var b strings.Builder
	b.Grow(len(unitPrefix) + len(span) + len(unitSuffix))
	b.WriteString(unitPrefix)
	b.WriteString(span)
	b.WriteString(unitSuffix)
	return Unit(b.String())
}

// Extract yields every message unit in document order. The document as a whole
// does not need to be well-formed; bytes outside message spans are skipped.
func Extract(document string) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		rest := document
		for {
			loc := messagePattern.FindStringIndex(rest)
			if loc == nil {
				return
			}
			if !yield(Wrap(rest[loc[0]:loc[1]])) {
				return
			}
			rest = rest[loc[1]:]
		}
	}
}

// Count returns the number of message spans in document without wrapping them.
func Count(document string) int {
	return len(messagePattern.FindAllStringIndex(document, -1))
}
