package server

import (
	"errors"
	"net/http"

	"github.com/beevik/etree"

	davxml "github.com/cleverlist/listdav/internal/xml"
	"github.com/cleverlist/listdav/tree"
)

func (h *Handler) handleProppatch(w http.ResponseWriter, r *http.Request, req *request) error {
	ctx := r.Context()
	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		return err
	}

	ops, err := parseProppatchBody(r)
	if err != nil {
		return err
	}

	href, err := h.href(ctx, req, res)
	if err != nil {
		return httpError(http.StatusInternalServerError, "path lookup failed", err)
	}

	env := &propEnv{ctx: ctx, req: req, res: res, h: h}
	ms := davxml.NewMultistatus()
	resp := ms.AddResponse(href)

	for _, op := range ops {
		var opErr error
		if op.set {
			opErr = h.setProp(env, op.name, op.value)
		} else {
			opErr = h.removeProp(env, op.name)
		}
		switch {
		case opErr == nil:
			davxml.AddPropStat(resp, op.name, nil, davxml.StatusLine(http.StatusOK))
		case errors.Is(opErr, errPropForbidden):
			davxml.AddPropStat(resp, op.name, nil, davxml.StatusLine(http.StatusForbidden))
		default:
			h.Logger.Error("property update failed", "prop", op.name, "error", opErr)
			davxml.AddPropStat(resp, op.name, nil, davxml.StatusLine(http.StatusInternalServerError))
		}
	}
	return writeMultistatus(w, ms)
}

type propOp struct {
	name  string
	set   bool
	value *etree.Element
}

// parseProppatchBody reads a propertyupdate document, keeping set and remove
// operations in document order.
func parseProppatchBody(r *http.Request) ([]propOp, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r.Body); err != nil {
		return nil, httpError(http.StatusBadRequest, "malformed request body", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "propertyupdate" {
		return nil, httpError(http.StatusBadRequest, "expected propertyupdate element", nil)
	}
	var ops []propOp
	for _, action := range root.ChildElements() {
		set := action.Tag == "set"
		if !set && action.Tag != "remove" {
			continue
		}
		for _, prop := range action.ChildElements() {
			if prop.Tag != "prop" {
				continue
			}
			for _, p := range prop.ChildElements() {
				ops = append(ops, propOp{name: davxml.ElementName(p), set: set, value: p})
			}
		}
	}
	if len(ops) == 0 {
		return nil, httpError(http.StatusBadRequest, "propertyupdate without operations", nil)
	}
	return ops, nil
}
