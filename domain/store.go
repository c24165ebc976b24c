package domain

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS groups (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS user_groups (
	user_id  INTEGER NOT NULL REFERENCES users(id),
	group_id INTEGER NOT NULL REFERENCES groups(id),
	UNIQUE (user_id, group_id)
);

CREATE TABLE IF NOT EXISTS tasks (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid     TEXT NOT NULL UNIQUE,
	name     TEXT NOT NULL,
	deadline TEXT,
	done     TEXT
);

CREATE TABLE IF NOT EXISTS shopping_items (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid    TEXT NOT NULL UNIQUE,
	name    TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 1,
	in_cart INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS products (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	stock         INTEGER NOT NULL DEFAULT 0,
	minimum_stock INTEGER NOT NULL DEFAULT 0
);
`

// Store persists domain records in SQLite.
//
// The OnTaskSaved, OnItemSaved and OnProductSaved hooks run after a record
// has been written, so the calendar layer can mirror the change. Hooks see
// the saved record; failures inside a hook never fail the save.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	OnTaskSaved    func(ctx context.Context, t *Task)
	OnItemSaved    func(ctx context.Context, it *ShoppingItem)
	OnProductSaved func(ctx context.Context, p *Product)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger. Logging is discarded by default.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// OpenStore opens (and if needed initializes) the domain database at dsn.
func OpenStore(dsn string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
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

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// TaskByUUID loads a task by its stable identifier.
func (s *Store) TaskByUUID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, deadline, done FROM tasks WHERE uuid = ?`, id)
	return scanTask(row)
}

// Task loads a task by primary key.
func (s *Store) Task(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, deadline, done FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// SaveTask inserts or updates a task and fires OnTaskSaved. A task without
// a UUID gets one assigned.
func (s *Store) SaveTask(ctx context.Context, t *Task) error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (uuid, name, deadline, done) VALUES (?, ?, ?, ?)`,
			t.UUID, t.Name, timePtrString(t.Deadline), timePtrString(t.Done))
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET name = ?, deadline = ?, done = ? WHERE id = ?`,
			t.Name, timePtrString(t.Deadline), timePtrString(t.Done), t.ID)
		if err != nil {
			return err
		}
	}
	if s.OnTaskSaved != nil {
		s.OnTaskSaved(ctx, t)
	}
	return nil
}

// DeleteTask removes a task. Deleting a missing task is not an error.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ItemByUUID loads a shopping item by its stable identifier.
func (s *Store) ItemByUUID(ctx context.Context, id string) (*ShoppingItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, count, in_cart FROM shopping_items WHERE uuid = ?`, id)
	return scanItem(row)
}

// Item loads a shopping item by primary key.
func (s *Store) Item(ctx context.Context, id int64) (*ShoppingItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, count, in_cart FROM shopping_items WHERE id = ?`, id)
	return scanItem(row)
}

// SaveItem inserts or updates a shopping item and fires OnItemSaved.
func (s *Store) SaveItem(ctx context.Context, it *ShoppingItem) error {
	if it.UUID == "" {
		it.UUID = uuid.NewString()
	}
	if it.Count == 0 {
		it.Count = 1
	}
	if it.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO shopping_items (uuid, name, count, in_cart) VALUES (?, ?, ?, ?)`,
			it.UUID, it.Name, it.Count, boolInt(it.InCart))
		if err != nil {
			return err
		}
		it.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		_, err := s.db.ExecContext(ctx,
			`UPDATE shopping_items SET name = ?, count = ?, in_cart = ? WHERE id = ?`,
			it.Name, it.Count, boolInt(it.InCart), it.ID)
		if err != nil {
			return err
		}
	}
	if s.OnItemSaved != nil {
		s.OnItemSaved(ctx, it)
	}
	return nil
}

// DeleteItem removes a shopping item.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shopping_items WHERE id = ?`, id)
	return err
}

// Product loads an inventory record by primary key.
func (s *Store) Product(ctx context.Context, id int64) (*Product, error) {
	p := &Product{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, stock, minimum_stock FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.UUID, &p.Name, &p.Stock, &p.MinimumStock)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Products lists all inventory records ordered by name.
func (s *Store) Products(ctx context.Context) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uuid, name, stock, minimum_stock FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Product
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.UUID, &p.Name, &p.Stock, &p.MinimumStock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProduct inserts or updates a product and fires OnProductSaved.
func (s *Store) SaveProduct(ctx context.Context, p *Product) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO products (uuid, name, stock, minimum_stock) VALUES (?, ?, ?, ?)`,
			p.UUID, p.Name, p.Stock, p.MinimumStock)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		_, err := s.db.ExecContext(ctx,
			`UPDATE products SET name = ?, stock = ?, minimum_stock = ? WHERE id = ?`,
			p.Name, p.Stock, p.MinimumStock, p.ID)
		if err != nil {
			return err
		}
	}
	if s.OnProductSaved != nil {
		s.OnProductSaved(ctx, p)
	}
	return nil
}

func scanTask(row *sql.Row) (*Task, error) {
	t := &Task{}
	var deadline, done sql.NullString
	err := row.Scan(&t.ID, &t.UUID, &t.Name, &deadline, &done)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Deadline, err = nullTime(deadline); err != nil {
		return nil, err
	}
	if t.Done, err = nullTime(done); err != nil {
		return nil, err
	}
	return t, nil
}

func scanItem(row *sql.Row) (*ShoppingItem, error) {
	it := &ShoppingItem{}
	var inCart int
	err := row.Scan(&it.ID, &it.UUID, &it.Name, &it.Count, &inCart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it.InCart = inCart != 0
	return it, nil
}

func timePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
