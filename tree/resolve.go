package tree

import (
	"context"
	"fmt"
	"strings"
)

// Root returns the owner's root collection with the given name, creating it
// lazily on first access.
func (s *Store) Root(ctx context.Context, owner, name string) (*Resource, error) {
	res, err := s.lookup(ctx, owner, 0, name)
	if err == nil {
		return res, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return s.create(ctx, owner, 0, name, true)
}

// Resolve walks path under the owner's root collection. Every intermediate
// segment must already exist and be a collection, otherwise ErrConflict. The
// final segment is created when opt.Create is set and returns ErrExists when
// it is already present under strict creation.
func (s *Store) Resolve(ctx context.Context, owner, root, path string, opt ResolveOptions) (*Resource, error) {
	parent, err := s.Root(ctx, owner, root)
	if err != nil {
		return nil, err
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return parent, nil
	}

	parts := strings.Split(path, "/")
	for _, part := range parts[:len(parts)-1] {
		node, err := s.lookup(ctx, owner, parent.ID, part)
		if err == ErrNotFound || (err == nil && !node.IsCollection) {
			return nil, fmt.Errorf("%w: %q", ErrConflict, part)
		}
		if err != nil {
			return nil, err
		}
		parent = node
	}

	leaf := parts[len(parts)-1]
	res, err := s.lookup(ctx, owner, parent.ID, leaf)
	if err == nil {
		if opt.Strict && opt.Create {
			return nil, fmt.Errorf("%w: %q", ErrExists, leaf)
		}
		return res, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	if !opt.Create {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, leaf)
	}
	return s.create(ctx, owner, parent.ID, leaf, opt.AsCollection)
}

// Path joins ancestor names from the progenitor down to the resource.
func (s *Store) Path(ctx context.Context, res *Resource) (string, error) {
	parts := []string{res.Name}
	parent := res.Parent
	for parent != 0 {
		node, err := s.Get(ctx, parent)
		if err != nil {
			return "", err
		}
		parts = append([]string{node.Name}, parts...)
		parent = node.Parent
	}
	return "/" + strings.Join(parts, "/"), nil
}

// Progenitor returns the topmost ancestor of a resource, or nil when the
// resource is itself a progenitor.
func (s *Store) Progenitor(ctx context.Context, res *Resource) (*Resource, error) {
	if res.Parent == 0 {
		return nil, nil
	}
	node := res
	for node.Parent != 0 {
		parent, err := s.Get(ctx, node.Parent)
		if err != nil {
			return nil, err
		}
		node = parent
	}
	return node, nil
}

// SharedVisible lists resources visible to a principal through sharing:
// unowned non-root resources plus resources owned by the given principals,
// restricted to the subtree whose progenitor carries the given name. The
// caller supplies owners from the requesting principal's group peers.
func (s *Store) SharedVisible(ctx context.Context, progenitor string, owners []string) ([]Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE (owner = '' AND parent <> 0)`
	args := []any{}
	if len(owners) > 0 {
		query += ` OR owner IN (?` + strings.Repeat(",?", len(owners)-1) + `)`
		for _, o := range owners {
			args = append(args, o)
		}
	}
	candidates, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []Resource
	for i := range candidates {
		prog, err := s.Progenitor(ctx, &candidates[i])
		if err != nil {
			return nil, err
		}
		name := candidates[i].Name
		if prog != nil {
			name = prog.Name
		}
		if name == progenitor {
			out = append(out, candidates[i])
		}
	}
	return out, nil
}

// Delete removes a resource. Protected resources are refused; non-empty
// collections are refused unless depth is "infinity", in which case the
// subtree goes with them. Every removed row is reported through OnDelete.
func (s *Store) Delete(ctx context.Context, res *Resource, depth string) error {
	if res.Protected {
		return ErrProtected
	}
	if res.IsCollection && depth != "infinity" {
		n, err := s.ChildCount(ctx, res.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrNotEmpty
		}
	}
	return s.deleteRecursive(ctx, res)
}

func (s *Store) deleteRecursive(ctx context.Context, res *Resource) error {
	children, err := s.Children(ctx, res.ID)
	if err != nil {
		return err
	}
	for i := range children {
		if err := s.deleteRecursive(ctx, &children[i]); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM props WHERE resource_id = ?`, res.ID); err != nil {
		return fmt.Errorf("deleting props of resource %d: %w", res.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, res.ID); err != nil {
		return fmt.Errorf("deleting resource %d: %w", res.ID, err)
	}
	if s.OnDelete != nil {
		s.OnDelete(*res)
	}
	return nil
}
