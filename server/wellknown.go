package server

import "net/http"

// WellKnown redirects /.well-known/caldav discovery requests to the served
// prefix. Mount it alongside the Handler.
func (h *Handler) WellKnown() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, h.Prefix, http.StatusFound)
	})
}
