package server

import (
	"net/http"

	"github.com/cleverlist/listdav/tree"
)

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, req *request) error {
	// MKCOL with a request body is not supported. A read probe also catches
	// chunked transfers, which carry no Content-Length.
	var probe [1]byte
	if n, _ := r.Body.Read(probe[:]); n > 0 {
		return httpError(http.StatusUnsupportedMediaType, "MKCOL body not supported", nil)
	}

	_, err := h.resolve(r.Context(), req, tree.ResolveOptions{
		Create:       true,
		AsCollection: true,
		Strict:       true,
	})
	if err != nil {
		return err
	}

	h.Logger.Info("collection created", "path", r.URL.Path)
	w.WriteHeader(http.StatusCreated)
	return nil
}
