package tree

import (
	"context"
	"database/sql"
	"fmt"
)

// Props lists all stored properties of a resource.
func (s *Store) Props(ctx context.Context, resourceID int64) ([]Prop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id, name, value, is_xml FROM props WHERE resource_id = ? ORDER BY name`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("listing props: %w", err)
	}
	defer rows.Close()

	var out []Prop
	for rows.Next() {
		var (
			p     Prop
			isXML int
		)
		if err := rows.Scan(&p.ResourceID, &p.Name, &p.Value, &isXML); err != nil {
			return nil, fmt.Errorf("scanning prop: %w", err)
		}
		p.IsXML = isXML != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProp fetches one stored property by name.
func (s *Store) GetProp(ctx context.Context, resourceID int64, name string) (*Prop, error) {
	var (
		p     Prop
		isXML int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT resource_id, name, value, is_xml FROM props WHERE resource_id = ? AND name = ?`,
		resourceID, name).Scan(&p.ResourceID, &p.Name, &p.Value, &isXML)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying prop %q: %w", name, err)
	}
	p.IsXML = isXML != 0
	return &p, nil
}

// SetProp creates or replaces a stored property.
func (s *Store) SetProp(ctx context.Context, resourceID int64, name, value string, isXML bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO props (resource_id, name, value, is_xml) VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id, name) DO UPDATE SET value = excluded.value, is_xml = excluded.is_xml`,
		resourceID, name, value, boolInt(isXML))
	if err != nil {
		return fmt.Errorf("setting prop %q: %w", name, err)
	}
	return nil
}

// DelProp removes a stored property. Removing an absent property is not an
// error.
func (s *Store) DelProp(ctx context.Context, resourceID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM props WHERE resource_id = ? AND name = ?`, resourceID, name)
	if err != nil {
		return fmt.Errorf("deleting prop %q: %w", name, err)
	}
	return nil
}
