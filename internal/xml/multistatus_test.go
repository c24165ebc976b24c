package xml

import (
	"net/http"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClark(t *testing.T) {
	assert.Equal(t, "{DAV:}getetag", Clark(DAV, "getetag"))

	ns, local := SplitClark("{urn:ietf:params:xml:ns:caldav}calendar-timezone")
	assert.Equal(t, CalDAV, ns)
	assert.Equal(t, "calendar-timezone", local)

	ns, local = SplitClark("plain")
	assert.Empty(t, ns)
	assert.Equal(t, "plain", local)
}

func TestElementName(t *testing.T) {
	doc := etree.NewDocument()
	err := doc.ReadFromString(`<D:prop xmlns:D="DAV:"><D:getetag/></D:prop>`)
	require.NoError(t, err)
	child := doc.Root().ChildElements()[0]
	assert.Equal(t, "{DAV:}getetag", ElementName(child))
}

func TestMultistatus(t *testing.T) {
	ms := NewMultistatus()
	resp := ms.AddResponse("/dav/alice/files/a.txt")
	AddTextPropStat(resp, Clark(DAV, "getetag"), `"abc"`, StatusLine(http.StatusOK))
	AddPropStat(resp, Clark(DAV, "getcontentlength"), nil, StatusLine(http.StatusNotFound))

	out, err := ms.String()
	require.NoError(t, err)
	assert.Contains(t, out, `xmlns:D="DAV:"`)
	assert.Contains(t, out, "<D:href>/dav/alice/files/a.txt</D:href>")
	// etree escapes quotes in character data; the escaping is lossless.
	assert.Contains(t, out, `<D:getetag>&quot;abc&quot;</D:getetag>`)
	assert.Contains(t, out, "HTTP/1.1 404 Not Found")
}
