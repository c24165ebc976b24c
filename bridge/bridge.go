// Package bridge keeps the resource tree in step with the domain records.
// Saving a task or shopping item rewrites its .ics mirror, and PUTting an
// .ics file into a mirror collection writes the change back to the record.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/mo"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/domain"
	"github.com/cleverlist/listdav/tree"
	"github.com/cleverlist/listdav/vtodo"
)

// Collection names the bridge mirrors into.
const (
	TaskCollection      = "tasks"
	ItemCollection      = "shoppingitems"
	InventoryCollection = "inventory"
)

// ICSContentType is stored on every mirrored resource.
const ICSContentType = "text/calendar; charset=utf-8"

// Bridge connects the domain store, the resource tree and the blob store.
type Bridge struct {
	Tree   *tree.Store
	Blobs  *blob.Store
	Domain *domain.Store

	logger *slog.Logger

	// MirrorFailures counts mirror writes that could not complete. Mirror
	// failures are logged and counted but never fail the domain save.
	MirrorFailures atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a Bridge over the three stores.
func New(t *tree.Store, blobs *blob.Store, d *domain.Store, opts ...Option) *Bridge {
	b := &Bridge{
		Tree:   t,
		Blobs:  blobs,
		Domain: d,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Hook installs the bridge's mirror callbacks on the domain store.
func (b *Bridge) Hook() {
	b.Domain.OnTaskSaved = b.MirrorTask
	b.Domain.OnItemSaved = b.MirrorItem
	b.Domain.OnProductSaved = b.MirrorProduct
}

// MirrorTask writes the .ics mirror of a task, creating the resource under
// the shared tasks collection on first save.
func (b *Bridge) MirrorTask(ctx context.Context, t *domain.Task) {
	todo := vtodo.Task{
		Summary:   t.Name,
		Due:       optTime(t.Deadline),
		Completed: optTime(t.Done),
	}
	res, err := b.Tree.ByTask(ctx, t.ID)
	if err == nil {
		b.rewrite(ctx, res, todo)
		b.Bump(ctx, TaskCollection)
		return
	}
	if !errors.Is(err, tree.ErrNotFound) {
		b.fail("mirror task", "task", t.UUID, err)
		return
	}
	res, err = b.link(ctx, TaskCollection, t.UUID)
	if err != nil {
		b.fail("mirror task", "task", t.UUID, err)
		return
	}
	res.TaskID = t.ID
	b.create(ctx, res, t.UUID, todo)
	b.Bump(ctx, TaskCollection)
}

// MirrorItem writes the .ics mirror of a shopping item. An item in the cart
// mirrors as a completed task; the completion timestamp is kept stable
// across saves.
func (b *Bridge) MirrorItem(ctx context.Context, it *domain.ShoppingItem) {
	todo := vtodo.Task{Summary: itemSummary(it)}
	res, err := b.Tree.ByItem(ctx, it.ID)
	if err == nil {
		if it.InCart {
			todo.Completed = mo.Some(completedAt(ctx, b, res))
		}
		b.rewrite(ctx, res, todo)
		b.Bump(ctx, ItemCollection)
		return
	}
	if !errors.Is(err, tree.ErrNotFound) {
		b.fail("mirror item", "item", it.UUID, err)
		return
	}
	if it.InCart {
		todo.Completed = mo.Some(time.Now().UTC())
	}
	res, err = b.link(ctx, ItemCollection, it.UUID)
	if err != nil {
		b.fail("mirror item", "item", it.UUID, err)
		return
	}
	res.ItemID = it.ID
	b.create(ctx, res, it.UUID, todo)
	b.Bump(ctx, ItemCollection)
}

// MirrorProduct writes the .ics mirror of an inventory product. A product
// with no stock left mirrors as a completed task; restocking reopens it.
func (b *Bridge) MirrorProduct(ctx context.Context, p *domain.Product) {
	todo := vtodo.Task{Summary: p.Summary()}
	res, err := b.Tree.ByProduct(ctx, p.ID)
	if err == nil {
		if p.Stock == 0 {
			todo.Completed = mo.Some(completedAt(ctx, b, res))
		}
		b.rewrite(ctx, res, todo)
		b.Bump(ctx, InventoryCollection)
		return
	}
	if !errors.Is(err, tree.ErrNotFound) {
		b.fail("mirror product", "product", p.UUID, err)
		return
	}
	if p.Stock == 0 {
		todo.Completed = mo.Some(time.Now().UTC())
	}
	res, err = b.link(ctx, InventoryCollection, p.UUID)
	if err != nil {
		b.fail("mirror product", "product", p.UUID, err)
		return
	}
	res.ProductID = p.ID
	b.create(ctx, res, p.UUID, todo)
	b.Bump(ctx, InventoryCollection)
}

// ApplyPut writes an uploaded .ics payload back into the domain record the
// resource mirrors. Resources outside the mirror collections pass through
// untouched; a payload without a VTODO on a mirror-bound resource is an
// error (returned as vtodo.ErrNoTodo).
func (b *Bridge) ApplyPut(ctx context.Context, res *tree.Resource, ics []byte) error {
	todo, err := vtodo.Parse(ics)
	if err != nil {
		if !errors.Is(err, vtodo.ErrNoTodo) {
			return err
		}
		mirror, merr := b.mirrorBound(ctx, res)
		if merr != nil {
			return merr
		}
		if mirror {
			return err
		}
		return nil
	}
	switch {
	case res.TaskID != 0:
		t, err := b.Domain.Task(ctx, res.TaskID)
		if err != nil {
			return err
		}
		t.Name = todo.Summary
		t.Deadline = ptrTime(todo.Due)
		t.Done = ptrTime(todo.Completed)
		return b.Domain.SaveTask(ctx, t)
	case res.ItemID != 0:
		it, err := b.Domain.Item(ctx, res.ItemID)
		if err != nil {
			return err
		}
		it.Name, it.Count = parseItemSummary(todo.Summary)
		it.InCart = todo.Completed.IsPresent()
		return b.Domain.SaveItem(ctx, it)
	case res.ProductID != 0:
		p, err := b.Domain.Product(ctx, res.ProductID)
		if err != nil {
			return err
		}
		// Checking off an inventory entry consumes one unit of stock.
		if todo.Completed.IsPresent() && p.Stock > 0 {
			p.Stock--
			return b.Domain.SaveProduct(ctx, p)
		}
		return nil
	}
	parent, err := b.Tree.Get(ctx, res.Parent)
	if err != nil {
		return err
	}
	uid := strings.TrimSuffix(res.Name, ".ics")
	switch parent.Name {
	case TaskCollection:
		t := &domain.Task{
			UUID:     uid,
			Name:     todo.Summary,
			Deadline: ptrTime(todo.Due),
			Done:     ptrTime(todo.Completed),
		}
		return b.Domain.SaveTask(ctx, t)
	case ItemCollection:
		it := &domain.ShoppingItem{UUID: uid, InCart: todo.Completed.IsPresent()}
		it.Name, it.Count = parseItemSummary(todo.Summary)
		return b.Domain.SaveItem(ctx, it)
	}
	return nil
}

// mirrorBound reports whether a resource is record-linked or sits directly in
// one of the mirror collections.
func (b *Bridge) mirrorBound(ctx context.Context, res *tree.Resource) (bool, error) {
	if res.TaskID != 0 || res.ItemID != 0 || res.ProductID != 0 {
		return true, nil
	}
	parent, err := b.Tree.Get(ctx, res.Parent)
	if err != nil {
		return false, err
	}
	switch parent.Name {
	case TaskCollection, ItemCollection, InventoryCollection:
		return true, nil
	}
	return false, nil
}

// ApplyDelete removes the domain record a resource mirrors, if any. The
// resource itself is the caller's to delete.
func (b *Bridge) ApplyDelete(ctx context.Context, res *tree.Resource) error {
	switch {
	case res.TaskID != 0:
		return b.Domain.DeleteTask(ctx, res.TaskID)
	case res.ItemID != 0:
		return b.Domain.DeleteItem(ctx, res.ItemID)
	}
	return nil
}

// Bump moves the sync tokens tied to a mirror collection.
func (b *Bridge) Bump(ctx context.Context, collection string) {
	for _, name := range tokensFor(collection) {
		if err := b.Tree.BumpSyncToken(ctx, name); err != nil {
			b.logger.Warn("sync token bump failed", "token", name, "error", err)
		}
	}
}

// tokensFor maps a mirror collection to the calendars whose clients need to
// see a new state. The shopping list feeds two calendars: the open list and
// the cart.
func tokensFor(collection string) []string {
	switch collection {
	case TaskCollection:
		return []string{"tasks"}
	case ItemCollection:
		return []string{"shoppinglist", "shoppingcart"}
	case InventoryCollection:
		return []string{"inventory"}
	}
	return nil
}

// link resolves (or creates) the mirror resource <uid>.ics under the named
// shared collection.
func (b *Bridge) link(ctx context.Context, collection, uid string) (*tree.Resource, error) {
	col, err := b.Tree.FindCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	res, err := b.Tree.EnsureChild(ctx, col, uid+".ics", false)
	if err != nil {
		return nil, err
	}
	res.ContentType = ICSContentType
	return res, nil
}

// create renders a fresh mirror body for a resource that has none yet.
func (b *Bridge) create(ctx context.Context, res *tree.Resource, uid string, todo vtodo.Task) {
	ics, err := vtodo.Create(uid, todo)
	if err != nil {
		b.fail("render mirror", "resource", res.UUID, err)
		return
	}
	b.write(ctx, res, ics)
}

// rewrite updates an existing mirror in place, keeping any properties the
// client stored on the original .ics body.
func (b *Bridge) rewrite(ctx context.Context, res *tree.Resource, todo vtodo.Task) {
	prev, err := b.Blobs.RetrieveString(blob.Object{
		OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size,
	})
	if err != nil {
		// Missing blob; regenerate from scratch.
		b.create(ctx, res, strings.TrimSuffix(res.Name, ".ics"), todo)
		return
	}
	ics, err := vtodo.Update([]byte(prev), todo)
	if err != nil {
		b.fail("rewrite mirror", "resource", res.UUID, err)
		return
	}
	b.write(ctx, res, ics)
}

func (b *Bridge) write(ctx context.Context, res *tree.Resource, ics []byte) {
	if err := b.Blobs.StoreBytes(ics, blob.Object{
		OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: int64(len(ics)),
	}); err != nil {
		b.fail("store mirror", "resource", res.UUID, err)
		return
	}
	res.Size = int64(len(ics))
	res.ContentType = ICSContentType
	if err := b.Tree.Update(ctx, res); err != nil {
		b.fail("update mirror", "resource", res.UUID, err)
	}
}

func (b *Bridge) fail(op, key, val string, err error) {
	b.MirrorFailures.Add(1)
	b.logger.Error("mirror failed", "op", op, key, val, "error", err)
}

// completedAt returns the completion timestamp already recorded on a mirror,
// or now if none is stored.
func completedAt(ctx context.Context, b *Bridge, res *tree.Resource) time.Time {
	prev, err := b.Blobs.RetrieveString(blob.Object{
		OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size,
	})
	if err == nil {
		if todo, err := vtodo.Parse([]byte(prev)); err == nil {
			if c, ok := todo.Completed.Get(); ok {
				return c
			}
		}
	}
	return time.Now().UTC()
}

// itemSummary titles a shopping item the way its list entry reads.
func itemSummary(it *domain.ShoppingItem) string {
	if it.Count > 1 {
		return fmt.Sprintf("%dx %s", it.Count, it.Name)
	}
	return it.Name
}

// parseItemSummary is the inverse of itemSummary.
func parseItemSummary(s string) (name string, count int) {
	count = 1
	before, after, ok := strings.Cut(s, "x ")
	if ok {
		if n, err := fmt.Sscanf(before, "%d", &count); err != nil || n != 1 || count < 1 {
			return s, 1
		}
		return after, count
	}
	return s, 1
}

func optTime(t *time.Time) mo.Option[time.Time] {
	if t == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(*t)
}

func ptrTime(opt mo.Option[time.Time]) *time.Time {
	if t, ok := opt.Get(); ok {
		return &t
	}
	return nil
}
