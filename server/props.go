package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/beevik/etree"

	davxml "github.com/cleverlist/listdav/internal/xml"
	"github.com/cleverlist/listdav/tree"
)

// Property getters signal these to pick the propstat status for a name.
var (
	errPropMissing   = errors.New("property not present")
	errPropForbidden = errors.New("property is protected")
)

// propValue is what a getter produces: plain text, one child element, or a
// list of child elements.
type propValue struct {
	Text  string
	Node  *etree.Element
	Nodes []*etree.Element
}

// propEnv is the context a getter or setter runs in.
type propEnv struct {
	ctx context.Context
	req *request
	res *tree.Resource
	h   *Handler
}

type propGetter func(env *propEnv) (propValue, error)
type propSetter func(env *propEnv, value *etree.Element) error

// registry maps Clark-notation property names to their live handlers.
// Names without an entry fall through to the stored properties table.
type registry struct {
	getters map[string]propGetter
	setters map[string]propSetter
}

func (r *registry) register(name string, get propGetter, set propSetter) {
	r.getters[name] = get
	if set == nil {
		set = func(*propEnv, *etree.Element) error { return errPropForbidden }
	}
	r.setters[name] = set
}

// builtinProps wires the live DAV and CalDAV properties. All of them are
// protected; PROPPATCH on a live name reports 403.
func builtinProps() *registry {
	r := &registry{
		getters: map[string]propGetter{},
		setters: map[string]propSetter{},
	}

	r.register(davxml.Clark(davxml.DAV, "resourcetype"), func(env *propEnv) (propValue, error) {
		if !env.res.IsCollection {
			return propValue{}, nil
		}
		nodes := []*etree.Element{davxml.NewElement(davxml.Clark(davxml.DAV, "collection"))}
		// Provisioned calendars carry a component set; surface them as
		// calendar collections.
		if _, err := env.h.Tree.GetProp(env.ctx, env.res.ID,
			davxml.Clark(davxml.CalDAV, "supported-calendar-component-set")); err == nil {
			nodes = append(nodes, davxml.NewElement(davxml.Clark(davxml.CalDAV, "calendar")))
		}
		return propValue{Nodes: nodes}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "getetag"), func(env *propEnv) (propValue, error) {
		return propValue{Text: `"` + env.res.ETag() + `"`}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "getcontentlength"), func(env *propEnv) (propValue, error) {
		if env.res.IsCollection {
			return propValue{}, errPropMissing
		}
		return propValue{Text: strconv.FormatInt(env.res.Size, 10)}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "getcontenttype"), func(env *propEnv) (propValue, error) {
		if env.res.IsCollection {
			return propValue{Text: "httpd/unix-directory"}, nil
		}
		if env.res.ContentType == "" {
			return propValue{}, errPropMissing
		}
		return propValue{Text: env.res.ContentType}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "getlastmodified"), func(env *propEnv) (propValue, error) {
		return propValue{Text: env.res.UpdatedAt.UTC().Format(http.TimeFormat)}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "creationdate"), func(env *propEnv) (propValue, error) {
		return propValue{Text: env.res.CreatedAt.UTC().Format(time.RFC3339)}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "displayname"), func(env *propEnv) (propValue, error) {
		if p, err := env.h.Tree.GetProp(env.ctx, env.res.ID, davxml.Clark(davxml.DAV, "displayname")); err == nil {
			return propValue{Text: p.Value}, nil
		}
		return propValue{Text: env.res.Name}, nil
	}, func(env *propEnv, value *etree.Element) error {
		return env.h.Tree.SetProp(env.ctx, env.res.ID, davxml.Clark(davxml.DAV, "displayname"), value.Text(), false)
	})

	r.register(davxml.Clark(davxml.DAV, "current-user-principal"), principalHref, nil)
	r.register(davxml.Clark(davxml.DAV, "principal-URL"), principalHref, nil)

	r.register(davxml.Clark(davxml.DAV, "owner"), func(env *propEnv) (propValue, error) {
		href := davxml.NewElement(davxml.Clark(davxml.DAV, "href"))
		user := env.res.Owner
		if env.res.Shared() {
			user = SharedUser
		}
		href.SetText(env.h.Prefix + user + "/")
		return propValue{Node: href}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "current-user-privilege-set"), func(env *propEnv) (propValue, error) {
		priv := davxml.NewElement(davxml.Clark(davxml.DAV, "privilege"))
		priv.AddChild(davxml.NewElement(davxml.Clark(davxml.DAV, "all")))
		return propValue{Nodes: []*etree.Element{priv}}, nil
	}, nil)

	r.register(davxml.Clark(davxml.DAV, "acl"), func(env *propEnv) (propValue, error) {
		ace := davxml.NewElement(davxml.Clark(davxml.DAV, "ace"))
		principal := davxml.NewElement(davxml.Clark(davxml.DAV, "principal"))
		href := davxml.NewElement(davxml.Clark(davxml.DAV, "href"))
		href.SetText(env.h.Prefix + env.req.principal + "/")
		principal.AddChild(href)
		ace.AddChild(principal)
		grant := davxml.NewElement(davxml.Clark(davxml.DAV, "grant"))
		priv := davxml.NewElement(davxml.Clark(davxml.DAV, "privilege"))
		priv.AddChild(davxml.NewElement(davxml.Clark(davxml.DAV, "all")))
		grant.AddChild(priv)
		ace.AddChild(grant)
		return propValue{Nodes: []*etree.Element{ace}}, nil
	}, nil)

	r.register(davxml.Clark(davxml.CalendarServer, "getctag"), collectionToken, nil)
	r.register(davxml.Clark(davxml.DAV, "sync-token"), collectionToken, nil)

	return r
}

func principalHref(env *propEnv) (propValue, error) {
	href := davxml.NewElement(davxml.Clark(davxml.DAV, "href"))
	href.SetText(env.h.Prefix + env.req.principal + "/")
	return propValue{Node: href}, nil
}

// collectionToken reports the sync state of a calendar collection. The token
// is keyed by the collection name, which is also how the bridge bumps it.
// Ordinary collections have no token and report the property as absent.
func collectionToken(env *propEnv) (propValue, error) {
	if !env.res.IsCollection {
		return propValue{}, errPropMissing
	}
	if _, err := env.h.Tree.GetProp(env.ctx, env.res.ID,
		davxml.Clark(davxml.CalDAV, "supported-calendar-component-set")); err != nil {
		return propValue{}, errPropMissing
	}
	token, _, err := env.h.Tree.SyncToken(env.ctx, env.res.Name)
	if err != nil {
		return propValue{}, err
	}
	return propValue{Text: token}, nil
}

// getProp evaluates one property for a resource: live registry first, then
// the stored properties table.
func (h *Handler) getProp(env *propEnv, name string) (propValue, error) {
	if get, ok := h.props.getters[name]; ok {
		return get(env)
	}
	p, err := h.Tree.GetProp(env.ctx, env.res.ID, name)
	if errors.Is(err, tree.ErrNotFound) {
		return propValue{}, errPropMissing
	}
	if err != nil {
		return propValue{}, err
	}
	if !p.IsXML {
		return propValue{Text: p.Value}, nil
	}
	nodes, err := parseStoredXML(p.Value)
	if err != nil {
		return propValue{}, err
	}
	return propValue{Nodes: nodes}, nil
}

// setProp applies one PROPPATCH set: live setters for registered names,
// the stored table for everything else.
func (h *Handler) setProp(env *propEnv, name string, value *etree.Element) error {
	if set, ok := h.props.setters[name]; ok {
		return set(env, value)
	}
	if len(value.ChildElements()) == 0 {
		return h.Tree.SetProp(env.ctx, env.res.ID, name, value.Text(), false)
	}
	return h.Tree.SetProp(env.ctx, env.res.ID, name, innerXML(value), true)
}

// removeProp applies one PROPPATCH remove. Removing a live property is
// forbidden; removing an absent stored one succeeds.
func (h *Handler) removeProp(env *propEnv, name string) error {
	if _, ok := h.props.getters[name]; ok {
		return errPropForbidden
	}
	return h.Tree.DelProp(env.ctx, env.res.ID, name)
}

// innerXML serializes the child elements of a property value for storage.
func innerXML(value *etree.Element) string {
	doc := etree.NewDocument()
	for _, child := range value.ChildElements() {
		doc.AddChild(child.Copy())
	}
	out, _ := doc.WriteToString()
	return out
}

// parseStoredXML turns a stored XML fragment back into elements.
func parseStoredXML(fragment string) ([]*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString("<x>" + fragment + "</x>"); err != nil {
		return nil, err
	}
	root := doc.Root()
	var out []*etree.Element
	for _, child := range root.ChildElements() {
		out = append(out, child.Copy())
	}
	return out, nil
}
