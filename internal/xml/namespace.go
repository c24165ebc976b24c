package xml

import (
	"strings"

	"github.com/beevik/etree"
)

// Namespace definitions for WebDAV and CalDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (used by some clients)
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal is the Apple iCal extension namespace
	AppleICal = "http://apple.com/ns/ical/"
)

// nsPrefix maps a namespace URI to the prefix declared on multistatus documents.
var nsPrefix = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CalendarServer: "CS",
	AppleICal:      "ICAL",
}

// Clark returns the Clark-notation name for a namespace/local pair,
// e.g. Clark(DAV, "getetag") == "{DAV:}getetag". Property registries and
// stored properties key on this form so that prefix choice never matters.
func Clark(namespace, local string) string {
	return "{" + namespace + "}" + local
}

// SplitClark splits a Clark-notation name into namespace and local part.
// A name without braces is treated as having an empty namespace.
func SplitClark(name string) (namespace, local string) {
	if strings.HasPrefix(name, "{") {
		if end := strings.Index(name, "}"); end > 0 {
			return name[1:end], name[end+1:]
		}
	}
	return "", name
}

// ElementName returns the Clark-notation name of a parsed element,
// resolving its declared namespace.
func ElementName(elem *etree.Element) string {
	return Clark(elem.NamespaceURI(), elem.Tag)
}

// NewElement creates an element for the given Clark-notation name with the
// document-level prefix for its namespace. Unknown namespaces fall back to
// the DAV prefix.
func NewElement(name string) *etree.Element {
	namespace, local := SplitClark(name)
	elem := etree.NewElement(local)
	if prefix, ok := nsPrefix[namespace]; ok {
		elem.Space = prefix
	} else if namespace != "" {
		elem.Space = "D"
	}
	return elem
}

// AddNamespaces declares the standard namespaces on the document root.
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:D", DAV)
	root.CreateAttr("xmlns:C", CalDAV)
	root.CreateAttr("xmlns:CS", CalendarServer)
	root.CreateAttr("xmlns:ICAL", AppleICal)
}
