package xml

import (
	"fmt"
	"io"
	"net/http"

	"github.com/beevik/etree"
)

// Multistatus builds a DAV multistatus document incrementally. Handlers add
// one response per resource and one propstat per property, each carrying its
// own status line, then serialize the whole document once.
type Multistatus struct {
	doc  *etree.Document
	root *etree.Element
}

// NewMultistatus creates an empty multistatus document with the standard
// namespaces declared on the root.
func NewMultistatus() *Multistatus {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("multistatus")
	root.Space = "D"
	m := &Multistatus{doc: doc, root: root}
	AddNamespaces(doc)
	return m
}

// AddResponse appends a response element with the given href and returns it
// so the caller can attach propstat blocks.
func (m *Multistatus) AddResponse(href string) *etree.Element {
	resp := m.root.CreateElement("response")
	resp.Space = "D"
	hrefElem := resp.CreateElement("href")
	hrefElem.Space = "D"
	hrefElem.SetText(href)
	return resp
}

// AddPropStat appends a propstat block to a response. value may be nil for
// failed properties, where only the empty property element is reported.
func AddPropStat(resp *etree.Element, name string, value []*etree.Element, status string) {
	propstat := resp.CreateElement("propstat")
	propstat.Space = "D"
	prop := propstat.CreateElement("prop")
	prop.Space = "D"
	propElem := NewElement(name)
	prop.AddChild(propElem)
	for _, child := range value {
		propElem.AddChild(child)
	}
	statusElem := propstat.CreateElement("status")
	statusElem.Space = "D"
	statusElem.SetText(status)
}

// AddTextPropStat is AddPropStat for plain-text property values.
func AddTextPropStat(resp *etree.Element, name, text, status string) {
	propstat := resp.CreateElement("propstat")
	propstat.Space = "D"
	prop := propstat.CreateElement("prop")
	prop.Space = "D"
	propElem := NewElement(name)
	prop.AddChild(propElem)
	if text != "" {
		propElem.SetText(text)
	}
	statusElem := propstat.CreateElement("status")
	statusElem.Space = "D"
	statusElem.SetText(status)
}

// StatusLine renders an HTTP status line the way multistatus bodies expect,
// e.g. "HTTP/1.1 404 Not Found".
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// Indent pretty-prints the document. Mostly useful in tests and logs.
func (m *Multistatus) Indent() {
	m.doc.Indent(2)
}

// WriteTo serializes the document to w.
func (m *Multistatus) WriteTo(w io.Writer) (int64, error) {
	return m.doc.WriteTo(w)
}

// String returns the serialized document.
func (m *Multistatus) String() (string, error) {
	return m.doc.WriteToString()
}
