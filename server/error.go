package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cleverlist/listdav/tree"
)

// Error carries the HTTP status a handler wants reported alongside the
// underlying cause. Handlers return it; writeError is the single place that
// turns it into a response.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func httpError(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// treeError maps the tree store's sentinel errors onto DAV statuses. ErrExists
// only comes back from strict creation (MKCOL), where it means 405.
func treeError(err error) *Error {
	switch {
	case errors.Is(err, tree.ErrNotFound):
		return httpError(http.StatusNotFound, "not found", err)
	case errors.Is(err, tree.ErrConflict):
		return httpError(http.StatusConflict, "missing intermediate collection", err)
	case errors.Is(err, tree.ErrExists):
		return httpError(http.StatusMethodNotAllowed, "resource already exists", err)
	case errors.Is(err, tree.ErrPrecondition):
		return httpError(http.StatusPreconditionFailed, "destination exists", err)
	case errors.Is(err, tree.ErrProtected):
		return httpError(http.StatusForbidden, "resource is protected", err)
	case errors.Is(err, tree.ErrNotEmpty):
		return httpError(http.StatusForbidden, "collection is not empty", err)
	}
	return httpError(http.StatusInternalServerError, "storage error", err)
}

// writeError reports a handler error to the client and the log.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var herr *Error
	if !errors.As(err, &herr) {
		herr = httpError(http.StatusInternalServerError, "internal error", err)
	}
	if herr.Status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "status", herr.Status, "error", err)
	} else {
		h.Logger.Debug("request refused", "status", herr.Status, "error", err)
	}
	http.Error(w, herr.Message, herr.Status)
}
