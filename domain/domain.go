// Package domain holds the relational records the calendar layer mirrors:
// tasks, shopping items and inventory products, plus the users and groups
// used for Basic-auth checks. The protocol layer only touches the fields
// declared here; the rest of the application's CRUD lives elsewhere.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Task is a to-do record. Done is the completion timestamp; nil means the
// task is still open.
type Task struct {
	ID       int64
	UUID     string
	Name     string
	Deadline *time.Time
	Done     *time.Time
}

// ShoppingItem is a shopping-list entry. InCart marks the item as picked up,
// which the calendar mirror reports as a completed task.
type ShoppingItem struct {
	ID     int64
	UUID   string
	Name   string
	Count  int
	InCart bool
}

// Product is an inventory record with its current and minimum stock.
type Product struct {
	ID           int64
	UUID         string
	Name         string
	Stock        int
	MinimumStock int
}

// Summary renders the product the way its calendar views title it.
func (p *Product) Summary() string {
	return fmt.Sprintf("%s (%d/%d)", p.Name, p.Stock, p.MinimumStock)
}

// User is a principal with a bcrypt password hash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Active       bool
}
