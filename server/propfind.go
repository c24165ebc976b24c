package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"

	davxml "github.com/cleverlist/listdav/internal/xml"
	"github.com/cleverlist/listdav/tree"
)

// propfind request modes.
const (
	modeProp = iota
	modeAllprop
	modePropname
)

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, req *request) error {
	mode, names, err := parsePropfindBody(r)
	if err != nil {
		return err
	}

	ms := davxml.NewMultistatus()
	ctx := r.Context()

	if req.root == "" {
		if err := h.propfindHome(ms, r, req, mode, names); err != nil {
			return err
		}
		return writeMultistatus(w, ms)
	}

	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		return err
	}
	href, err := h.href(ctx, req, res)
	if err != nil {
		return httpError(http.StatusInternalServerError, "path lookup failed", err)
	}
	h.addPropfindResponse(ms, &propEnv{ctx: ctx, req: req, res: res, h: h}, href, mode, names)

	if res.IsCollection && req.depth != "0" {
		if req.user == SharedUser {
			err = h.propfindShared(ms, r, req, res, mode, names)
		} else {
			err = h.propfindChildren(ms, r, req, res, mode, names)
		}
		if err != nil {
			return err
		}
	}
	return writeMultistatus(w, ms)
}

// propfindHome answers a PROPFIND on the user segment itself: a synthetic
// collection whose children are the owner's progenitor collections.
func (h *Handler) propfindHome(ms *davxml.Multistatus, r *http.Request, req *request, mode int, names []string) error {
	ctx := r.Context()
	home := &tree.Resource{
		Name:         req.user,
		Owner:        req.owner,
		IsCollection: true,
		CreatedAt:    time.Unix(0, 0),
		UpdatedAt:    time.Unix(0, 0),
	}
	h.addPropfindResponse(ms, &propEnv{ctx: ctx, req: req, res: home, h: h},
		h.Prefix+req.user+"/", mode, names)

	if req.depth == "0" {
		return nil
	}
	roots, err := h.Tree.Roots(ctx, req.owner)
	if err != nil {
		return httpError(http.StatusInternalServerError, "listing failed", err)
	}
	for i := range roots {
		root := &roots[i]
		h.addPropfindResponse(ms, &propEnv{ctx: ctx, req: req, res: root, h: h},
			h.Prefix+req.user+"/"+root.Name+"/", mode, names)
	}
	return nil
}

// propfindChildren lists the direct children of a collection.
func (h *Handler) propfindChildren(ms *davxml.Multistatus, r *http.Request, req *request, res *tree.Resource, mode int, names []string) error {
	ctx := r.Context()
	children, err := h.Tree.Children(ctx, res.ID)
	if err != nil {
		return httpError(http.StatusInternalServerError, "listing failed", err)
	}
	for i := range children {
		child := &children[i]
		href, err := h.href(ctx, req, child)
		if err != nil {
			return httpError(http.StatusInternalServerError, "path lookup failed", err)
		}
		h.addPropfindResponse(ms, &propEnv{ctx: ctx, req: req, res: child, h: h}, href, mode, names)
	}
	return nil
}

// propfindShared lists a shared collection: the union of group-visible
// resources at this level across owners, with each href rewritten to the
// owning principal's namespace.
func (h *Handler) propfindShared(ms *davxml.Multistatus, r *http.Request, req *request, res *tree.Resource, mode int, names []string) error {
	ctx := r.Context()
	peers, err := h.Auth.GroupPeers(ctx, req.principal)
	if err != nil {
		return httpError(http.StatusInternalServerError, "group lookup failed", err)
	}
	visible, err := h.Tree.SharedVisible(ctx, req.root, peers)
	if err != nil {
		return httpError(http.StatusInternalServerError, "listing failed", err)
	}

	dir := "/" + req.root
	if req.path != "" {
		dir += "/" + req.path
	}
	for i := range visible {
		child := &visible[i]
		path, err := h.Tree.Path(ctx, child)
		if err != nil {
			return httpError(http.StatusInternalServerError, "path lookup failed", err)
		}
		if path != dir+"/"+child.Name {
			continue
		}
		user := child.Owner
		if child.Shared() {
			user = SharedUser
		}
		href := h.Prefix + user + path
		if child.IsCollection {
			href += "/"
		}
		h.addPropfindResponse(ms, &propEnv{ctx: ctx, req: req, res: child, h: h}, href, mode, names)
	}
	return nil
}

// addPropfindResponse renders one response element: a propstat per requested
// property, each carrying its own status.
func (h *Handler) addPropfindResponse(ms *davxml.Multistatus, env *propEnv, href string, mode int, names []string) {
	resp := ms.AddResponse(href)
	if mode != modeProp {
		names = h.availableNames(env)
	}
	for _, name := range names {
		if mode == modePropname {
			davxml.AddPropStat(resp, name, nil, davxml.StatusLine(http.StatusOK))
			continue
		}
		value, err := h.getProp(env, name)
		switch {
		case err == nil:
			addValuePropStat(resp, name, value, davxml.StatusLine(http.StatusOK))
		case errors.Is(err, errPropMissing):
			davxml.AddPropStat(resp, name, nil, davxml.StatusLine(http.StatusNotFound))
		case errors.Is(err, errPropForbidden):
			davxml.AddPropStat(resp, name, nil, davxml.StatusLine(http.StatusForbidden))
		default:
			h.Logger.Error("property lookup failed", "prop", name, "error", err)
			davxml.AddPropStat(resp, name, nil, davxml.StatusLine(http.StatusInternalServerError))
		}
	}
}

// availableNames is the property set reported for allprop and propname: the
// live registry plus the resource's stored properties.
func (h *Handler) availableNames(env *propEnv) []string {
	var names []string
	for name := range h.props.getters {
		names = append(names, name)
	}
	stored, err := h.Tree.Props(env.ctx, env.res.ID)
	if err != nil {
		h.Logger.Error("stored property listing failed", "resource", env.res.UUID, "error", err)
		return names
	}
	for _, p := range stored {
		if _, live := h.props.getters[p.Name]; !live {
			names = append(names, p.Name)
		}
	}
	return names
}

func addValuePropStat(resp *etree.Element, name string, value propValue, status string) {
	switch {
	case value.Node != nil:
		davxml.AddPropStat(resp, name, []*etree.Element{value.Node}, status)
	case value.Nodes != nil:
		davxml.AddPropStat(resp, name, value.Nodes, status)
	default:
		davxml.AddTextPropStat(resp, name, value.Text, status)
	}
}

// parsePropfindBody reads the request document. An empty body means allprop.
func parsePropfindBody(r *http.Request) (mode int, names []string, err error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r.Body); err != nil && !errors.Is(err, io.EOF) {
		return 0, nil, httpError(http.StatusBadRequest, "malformed request body", err)
	}
	root := doc.Root()
	if root == nil {
		// Empty body means allprop.
		return modeAllprop, nil, nil
	}
	if root.Tag != "propfind" {
		return 0, nil, httpError(http.StatusBadRequest, "expected propfind element", nil)
	}
	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "allprop":
			return modeAllprop, nil, nil
		case "propname":
			return modePropname, nil, nil
		case "prop":
			for _, p := range child.ChildElements() {
				names = append(names, davxml.ElementName(p))
			}
			return modeProp, names, nil
		}
	}
	return 0, nil, httpError(http.StatusBadRequest, "propfind without prop, allprop or propname", nil)
}

func writeMultistatus(w http.ResponseWriter, ms *davxml.Multistatus) error {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := ms.WriteTo(w); err != nil {
		return httpError(http.StatusInternalServerError, "writing multistatus", err)
	}
	return nil
}
