// Package server implements the WebDAV/CalDAV face of the resource tree.
// Collections and files live in the tree store, file bodies in the blob
// store, and the bridge keeps mirrored .ics files in step with the domain
// records behind them.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/bridge"
	"github.com/cleverlist/listdav/tree"
)

// SharedUser is the path segment standing in for the unowned namespace.
const SharedUser = "shared"

// Authenticator checks credentials and group membership. The domain store
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
	SharedGroup(ctx context.Context, a, b string) (bool, error)
	GroupPeers(ctx context.Context, username string) ([]string, error)
}

// Handler serves DAV requests under Prefix.
type Handler struct {
	Prefix string
	Realm  string
	Tree   *tree.Store
	Blobs  *blob.Store
	Bridge *bridge.Bridge
	Auth   Authenticator
	Logger *slog.Logger

	props *registry
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.Logger = l }
}

// WithRealm sets the Basic-auth realm.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.Realm = realm }
}

// New creates a Handler. The prefix is normalized to have leading and
// trailing slashes.
func New(prefix string, t *tree.Store, blobs *blob.Store, br *bridge.Bridge, auth Authenticator, opts ...Option) *Handler {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	h := &Handler{
		Prefix: prefix,
		Realm:  "listdav",
		Tree:   t,
		Blobs:  blobs,
		Bridge: br,
		Auth:   auth,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.props = builtinProps()
	return h
}

// request is the parsed form of one DAV request.
type request struct {
	principal string // authenticated username
	user      string // path user segment, SharedUser for the shared namespace
	owner     string // tree owner key derived from user
	root      string // progenitor collection name, "" at the user's home
	path      string // remainder below the progenitor
	depth     string // "0", "1" or "infinity"
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Logger.Debug("request received", "method", r.Method, "path", r.URL.Path)

	if r.Method == http.MethodOptions {
		h.handleOptions(w, r)
		return
	}

	principal, ok := h.checkAuth(w, r)
	if !ok {
		return
	}

	req, err := h.parsePath(r, principal)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch r.Method {
	case "PROPFIND":
		err = h.handlePropfind(w, r, req)
	case "PROPPATCH":
		err = h.handleProppatch(w, r, req)
	case http.MethodGet, http.MethodHead:
		err = h.handleGet(w, r, req)
	case http.MethodPut:
		err = h.handlePut(w, r, req)
	case http.MethodDelete:
		err = h.handleDelete(w, r, req)
	case "MKCOL":
		err = h.handleMkcol(w, r, req)
	case "COPY", "MOVE":
		err = h.handleCopyMove(w, r, req)
	default:
		err = httpError(http.StatusMethodNotAllowed, "method not allowed", nil)
	}
	if err != nil {
		h.writeError(w, err)
	}
}

// checkAuth performs Basic authentication and writes the 401 challenge on
// failure.
func (h *Handler) checkAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, password, ok := r.BasicAuth()
	if ok {
		if err := h.Auth.Authenticate(r.Context(), username, password); err == nil {
			return username, true
		}
		h.Logger.Info("authentication failed", "user", username)
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.Realm))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return "", false
}

// parsePath splits the URL into user, progenitor and remainder and enforces
// the sharing rules: a principal reaches the shared namespace, their own
// tree, and the trees of users they share a group with.
func (h *Handler) parsePath(r *http.Request, principal string) (*request, error) {
	req, err := h.parseTarget(r.Context(), principal, strings.TrimPrefix(r.URL.Path, h.Prefix))
	if err != nil {
		return nil, err
	}
	req.depth = parseDepth(r)
	return req, nil
}

// parseTarget resolves a path below the prefix into a request target. It is
// shared between the request URL and the Destination header of COPY/MOVE.
func (h *Handler) parseTarget(ctx context.Context, principal, rel string) (*request, error) {
	rel = strings.Trim(rel, "/")

	req := &request{principal: principal}
	if rel == "" {
		req.user = principal
		req.owner = principal
		return req, nil
	}

	parts := strings.SplitN(rel, "/", 3)
	req.user = parts[0]
	switch {
	case req.user == SharedUser:
		req.owner = tree.SharedOwner
	case req.user == principal:
		req.owner = req.user
	default:
		shared, err := h.Auth.SharedGroup(ctx, principal, req.user)
		if err != nil {
			return nil, httpError(http.StatusInternalServerError, "group lookup failed", err)
		}
		if !shared {
			return nil, httpError(http.StatusForbidden, "access denied", nil)
		}
		req.owner = req.user
	}
	if len(parts) > 1 {
		req.root = parts[1]
	}
	if len(parts) > 2 {
		req.path = parts[2]
	}
	return req, nil
}

func parseDepth(r *http.Request) string {
	switch r.Header.Get("Depth") {
	case "0":
		return "0"
	case "1":
		return "1"
	default:
		return "infinity"
	}
}

// resolve walks the request path in the tree.
func (h *Handler) resolve(ctx context.Context, req *request, opt tree.ResolveOptions) (*tree.Resource, error) {
	if req.root == "" {
		return nil, httpError(http.StatusMethodNotAllowed, "method not allowed at home level", nil)
	}
	res, err := h.Tree.Resolve(ctx, req.owner, req.root, req.path, opt)
	if err != nil {
		return nil, treeError(err)
	}
	return res, nil
}

// href renders the client-visible URL of a resource within a request's user
// namespace. Collections get a trailing slash.
func (h *Handler) href(ctx context.Context, req *request, res *tree.Resource) (string, error) {
	path, err := h.Tree.Path(ctx, res)
	if err != nil {
		return "", err
	}
	href := h.Prefix + req.user + path
	if res.IsCollection && !strings.HasSuffix(href, "/") {
		href += "/"
	}
	return href, nil
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "OPTIONS, PROPFIND, PROPPATCH, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE")
	w.Header().Set("DAV", "1, 2, calendar-access")
	w.WriteHeader(http.StatusOK)
}
