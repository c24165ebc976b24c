package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/cleverlist/listdav/tree"
)

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request, req *request) error {
	ctx := r.Context()
	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		return err
	}

	dest, err := h.parseDestination(r, req)
	if err != nil {
		return err
	}
	if dest.root == "" {
		return httpError(http.StatusBadGateway, "destination outside a collection tree", nil)
	}
	overwrite := r.Header.Get("Overwrite") != "F"
	srcParentID := res.Parent

	var created bool
	if r.Method == "MOVE" {
		created, err = h.Tree.Move(ctx, res, dest.owner, dest.root, dest.path, overwrite)
	} else {
		created, err = h.Tree.Copy(ctx, res, dest.owner, dest.root, dest.path, overwrite, req.depth)
	}
	if err != nil {
		return treeError(err)
	}

	// Membership changed in both parents; their calendars need new tokens.
	if parent, err := h.Tree.Get(ctx, srcParentID); err == nil {
		h.Bridge.Bump(ctx, parent.Name)
	}
	if dst, err := h.Tree.Resolve(ctx, dest.owner, dest.root, dest.path, tree.ResolveOptions{}); err == nil {
		if parent, err := h.Tree.Get(ctx, dst.Parent); err == nil && parent.ID != srcParentID {
			h.Bridge.Bump(ctx, parent.Name)
		}
	}

	h.Logger.Info("resource relocated", "method", r.Method, "path", r.URL.Path, "destination", dest.path)
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

// parseDestination validates the Destination header: it must point back into
// this server and prefix, and the principal must be allowed to write there.
func (h *Handler) parseDestination(r *http.Request, req *request) (*request, error) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return nil, httpError(http.StatusBadRequest, "missing Destination header", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, httpError(http.StatusBadRequest, "malformed Destination header", err)
	}
	if u.Host != "" && u.Host != r.Host {
		return nil, httpError(http.StatusBadGateway, "destination on another server", nil)
	}
	if !strings.HasPrefix(u.Path, h.Prefix) {
		return nil, httpError(http.StatusBadGateway, "destination outside served prefix", nil)
	}
	return h.parseTarget(r.Context(), req.principal, strings.TrimPrefix(u.Path, h.Prefix))
}
