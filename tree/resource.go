// Package tree is the persistent hierarchical namespace of WebDAV resources.
// Nodes are addressed by (owner, parent, name) and stored in SQLite; tree
// operations walk id references, never in-memory pointers, so a deleted node
// can never leave a dangling reference behind.
package tree

import (
	"errors"
	"strconv"
	"time"
)

// Sentinel errors returned by store operations. The protocol layer maps
// these onto HTTP statuses.
var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned when an intermediate path segment is missing
	// or is not a collection.
	ErrConflict = errors.New("intermediate collection missing")
	// ErrExists is returned by strict creation when the node already exists.
	ErrExists = errors.New("resource already exists")
	// ErrPrecondition is returned when overwrite is disallowed but the
	// destination exists.
	ErrPrecondition = errors.New("destination exists and overwrite is forbidden")
	// ErrProtected is returned when deleting a protected resource.
	ErrProtected = errors.New("resource is protected")
	// ErrNotEmpty is returned when deleting a non-empty collection without
	// infinite depth.
	ErrNotEmpty = errors.New("collection is not empty")
)

// SharedOwner is the owner value of the shared/group namespace. An empty
// owner uniformly denotes "no principal" across the store.
const SharedOwner = ""

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Resource is a node in the namespace. Parent 0 marks a progenitor (topmost
// ancestor); TaskID/ItemID/ProductID 0 mark the absence of a domain link.
type Resource struct {
	ID           int64
	UUID         string
	Owner        string
	Parent       int64
	Name         string
	IsCollection bool
	ContentType  string
	Size         int64
	Protected    bool
	TaskID       int64
	ItemID       int64
	ProductID    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Shared reports whether the resource lives in the unowned namespace.
func (r *Resource) Shared() bool {
	return r.Owner == SharedOwner
}

// OwnerDir is the directory segment used by the content store. The shared
// namespace maps to a fixed segment so unowned content stays in one place.
func (r *Resource) OwnerDir() string {
	if r.Shared() {
		return "shared"
	}
	return r.Owner
}

// ETag derives the entity tag from the last modification time. It is never
// stored; any metadata or content change moves UpdatedAt and therefore the
// tag.
func (r *Resource) ETag() string {
	return strconv.FormatInt(r.UpdatedAt.UnixNano(), 16)
}

// Prop is a stored property row for properties not covered by computed
// getters. IsXML distinguishes serialized XML fragments from plain text.
type Prop struct {
	ResourceID int64
	Name       string
	Value      string
	IsXML      bool
}

// ResolveOptions control Resolve's behavior for the final path segment.
type ResolveOptions struct {
	// Create the final segment when absent.
	Create bool
	// AsCollection creates the final segment as a collection.
	AsCollection bool
	// Strict makes Create fail with ErrExists when the node is present,
	// as MKCOL requires.
	Strict bool
}
