package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/tree"
)

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, req *request) error {
	ctx := r.Context()
	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		return err
	}
	if res.IsCollection {
		return httpError(http.StatusForbidden, "cannot download a collection", nil)
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	w.Header().Set("ETag", `"`+res.ETag()+`"`)
	w.Header().Set("Last-Modified", res.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	body, err := h.Blobs.Retrieve(blob.Object{OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size})
	if err != nil {
		return httpError(http.StatusInternalServerError, "content unavailable", err)
	}
	defer body.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; all we can do is log.
		h.Logger.Error("sending content failed", "resource", res.UUID, "error", err)
	}
	return nil
}
