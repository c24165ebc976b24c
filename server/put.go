package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/tree"
	"github.com/cleverlist/listdav/vtodo"
)

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, req *request) error {
	ctx := r.Context()
	if req.path == "" {
		return httpError(http.StatusMethodNotAllowed, "cannot PUT a collection", nil)
	}

	created := false
	res, err := h.resolve(ctx, req, tree.ResolveOptions{})
	if err != nil {
		var herr *Error
		if !errors.As(err, &herr) || herr.Status != http.StatusNotFound {
			return err
		}
		created = true
		res, err = h.resolve(ctx, req, tree.ResolveOptions{Create: true})
		if err != nil {
			return err
		}
	}
	if res.IsCollection {
		return httpError(http.StatusMethodNotAllowed, "cannot PUT a collection", nil)
	}

	// The declared length sizes the resource; the body streams into the blob
	// store in bounded chunks. A chunked transfer carries no length and is
	// buffered to find one.
	if size := r.ContentLength; size >= 0 {
		n, err := h.Blobs.Store(r.Body, blob.Object{
			OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: size,
		})
		if err != nil {
			return httpError(http.StatusInternalServerError, "storing content", err)
		}
		if n != size {
			h.Logger.Warn("short request body", "path", r.URL.Path, "declared", size, "stored", n)
		}
		res.Size = size
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return httpError(http.StatusBadRequest, "reading request body", err)
		}
		if err := h.Blobs.StoreBytes(data, blob.Object{
			OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: int64(len(data)),
		}); err != nil {
			return httpError(http.StatusInternalServerError, "storing content", err)
		}
		res.Size = int64(len(data))
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		res.ContentType = ct
	}
	if err := h.Tree.Update(ctx, res); err != nil {
		return treeError(err)
	}

	// Mirror-backed .ics files write back into the record they mirror,
	// reading from what was actually stored. A write-back failure leaves the
	// uploaded file in place.
	if isCalendarPayload(res) {
		body, err := h.Blobs.RetrieveString(blob.Object{
			OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size,
		})
		if err != nil {
			return httpError(http.StatusInternalServerError, "rereading stored content", err)
		}
		if err := h.Bridge.ApplyPut(ctx, res, []byte(body)); err != nil {
			if errors.Is(err, vtodo.ErrNoTodo) {
				return httpError(http.StatusBadRequest, "calendar document has no task component", err)
			}
			h.Logger.Warn("calendar write-back failed", "resource", res.UUID, "error", err)
		}
	}
	if parent, err := h.Tree.Get(ctx, res.Parent); err == nil {
		h.Bridge.Bump(ctx, parent.Name)
	}

	w.Header().Set("ETag", `"`+res.ETag()+`"`)
	if created {
		h.Logger.Info("resource created", "path", r.URL.Path, "size", res.Size)
		w.WriteHeader(http.StatusCreated)
	} else {
		h.Logger.Info("resource updated", "path", r.URL.Path, "size", res.Size)
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func isCalendarPayload(res *tree.Resource) bool {
	return strings.HasPrefix(res.ContentType, "text/calendar") ||
		strings.HasSuffix(res.Name, ".ics")
}
