package tree

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    parent INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    is_collection INTEGER NOT NULL DEFAULT 0,
    content_type TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    protected INTEGER NOT NULL DEFAULT 0,
    task_id INTEGER NOT NULL DEFAULT 0,
    item_id INTEGER NOT NULL DEFAULT 0,
    product_id INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(owner, parent, name)
);
CREATE INDEX IF NOT EXISTS idx_resources_parent ON resources(parent);
CREATE INDEX IF NOT EXISTS idx_resources_uuid ON resources(uuid);
CREATE INDEX IF NOT EXISTS idx_resources_name ON resources(name);
CREATE INDEX IF NOT EXISTS idx_resources_task ON resources(task_id);
CREATE INDEX IF NOT EXISTS idx_resources_item ON resources(item_id);
CREATE INDEX IF NOT EXISTS idx_resources_product ON resources(product_id);

CREATE TABLE IF NOT EXISTS props (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    is_xml INTEGER NOT NULL DEFAULT 0,
    UNIQUE(resource_id, name)
);

CREATE TABLE IF NOT EXISTS sync_tokens (
    name TEXT PRIMARY KEY,
    counter INTEGER NOT NULL DEFAULT 0,
    last_modified TEXT NOT NULL
);
`

const resourceColumns = `id, uuid, owner, parent, name, is_collection, content_type, size, protected, task_id, item_id, product_id, created_at, updated_at`

// Store is the SQLite-backed resource tree.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// OnDelete, when set, is invoked for every resource row removed by
	// Delete or by an overwriting Move, letting the wiring clean up
	// backing content.
	OnDelete func(Resource)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (and initializes) the resource tree database at dsn. SQLite
// serializes writers; a single connection keeps the resolve-or-create
// sequence atomic with respect to the (owner, parent, name) constraint.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening tree database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing tree schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	var (
		r                    Resource
		isColl, protected    int
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.UUID, &r.Owner, &r.Parent, &r.Name, &isColl,
		&r.ContentType, &r.Size, &protected, &r.TaskID, &r.ItemID, &r.ProductID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.IsCollection = isColl != 0
	r.Protected = protected != 0
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *Store) get(ctx context.Context, query string, args ...any) (*Resource, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	res, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}
	return res, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// Get retrieves a resource by id.
func (s *Store) Get(ctx context.Context, id int64) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
}

// ByUUID retrieves a resource by its stable UUID.
func (s *Store) ByUUID(ctx context.Context, id string) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE uuid = ?`, id)
}

// ByTask retrieves the resource mirroring the given task record, if any.
func (s *Store) ByTask(ctx context.Context, taskID int64) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE task_id = ?`, taskID)
}

// ByItem retrieves the resource mirroring the given shopping item, if any.
func (s *Store) ByItem(ctx context.Context, itemID int64) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE item_id = ?`, itemID)
}

// ByProduct retrieves the resource mirroring the given product, if any.
func (s *Store) ByProduct(ctx context.Context, productID int64) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE product_id = ?`, productID)
}

// FindCollection finds a collection by bare name anywhere in the tree. The
// bridge uses this to locate the well-known mirror parents ("tasks",
// "shoppingitems").
func (s *Store) FindCollection(ctx context.Context, name string) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE name = ? AND is_collection = 1 ORDER BY id LIMIT 1`, name)
}

// Children lists the direct children of a collection.
func (s *Store) Children(ctx context.Context, parentID int64) ([]Resource, error) {
	return s.list(ctx, `SELECT `+resourceColumns+` FROM resources WHERE parent = ? ORDER BY name`, parentID)
}

// ChildCount counts the direct children of a collection.
func (s *Store) ChildCount(ctx context.Context, parentID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE parent = ?`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting children: %w", err)
	}
	return n, nil
}

// Update persists the mutable fields of a resource and bumps its
// modification time (and hence its etag).
func (s *Store) Update(ctx context.Context, res *Resource) error {
	res.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET uuid = ?, owner = ?, parent = ?, name = ?, is_collection = ?,
		    content_type = ?, size = ?, protected = ?, task_id = ?, item_id = ?,
		    product_id = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		res.UUID, res.Owner, res.Parent, res.Name, boolInt(res.IsCollection),
		res.ContentType, res.Size, boolInt(res.Protected), res.TaskID, res.ItemID,
		res.ProductID, res.CreatedAt.UTC().Format(time.RFC3339Nano),
		res.UpdatedAt.Format(time.RFC3339Nano),
		res.ID)
	if err != nil {
		return fmt.Errorf("updating resource %d: %w", res.ID, err)
	}
	return nil
}

// Roots lists an owner's progenitor collections.
func (s *Store) Roots(ctx context.Context, owner string) ([]Resource, error) {
	return s.list(ctx, `SELECT `+resourceColumns+` FROM resources WHERE owner = ? AND parent = 0 ORDER BY name`, owner)
}

// EnsureChild returns the named child of a collection, creating it when it
// does not exist yet.
func (s *Store) EnsureChild(ctx context.Context, parent *Resource, name string, asCollection bool) (*Resource, error) {
	res, err := s.lookup(ctx, parent.Owner, parent.ID, name)
	if err == nil {
		return res, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return s.create(ctx, parent.Owner, parent.ID, name, asCollection)
}

// create inserts a new node. The unique constraint on (owner, parent, name)
// backs the uniqueness invariant; on a constraint race the existing row is
// returned instead.
func (s *Store) create(ctx context.Context, owner string, parent int64, name string, asCollection bool) (*Resource, error) {
	now := nowString()
	res := &Resource{
		UUID:         uuid.NewString(),
		Owner:        owner,
		Parent:       parent,
		Name:         name,
		IsCollection: asCollection,
		CreatedAt:    parseTime(now),
		UpdatedAt:    parseTime(now),
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (uuid, owner, parent, name, is_collection, content_type, size, protected, task_id, item_id, product_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', 0, 0, 0, 0, 0, ?, ?)`,
		res.UUID, owner, parent, name, boolInt(asCollection), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return s.lookup(ctx, owner, parent, name)
		}
		return nil, fmt.Errorf("creating resource %q: %w", name, err)
	}
	res.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new resource id: %w", err)
	}
	return res, nil
}

func (s *Store) lookup(ctx context.Context, owner string, parent int64, name string) (*Resource, error) {
	return s.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE owner = ? AND parent = ? AND name = ?`,
		owner, parent, name)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
