package server

import (
	"net/http"

	"github.com/cleverlist/listdav/tree"
)

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, req *request) error {
	ctx := r.Context()
	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		return err
	}

	// The tree's protected/non-empty guards decide first; a refused DELETE
	// must leave the mirrored record untouched.
	parentID := res.Parent
	if err := h.Tree.Delete(ctx, res, req.depth); err != nil {
		return treeError(err)
	}
	if err := h.Bridge.ApplyDelete(ctx, res); err != nil {
		h.Logger.Warn("record delete failed", "resource", res.UUID, "error", err)
	}
	if parent, err := h.Tree.Get(ctx, parentID); err == nil {
		h.Bridge.Bump(ctx, parent.Name)
	}

	h.Logger.Info("resource deleted", "path", r.URL.Path)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
