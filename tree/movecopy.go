package tree

import (
	"context"
	"fmt"
)

// Move relocates a resource to destPath under destOwner's destRoot. Identity
// fields (collection flag, uuid, size, content type, creation time) and the
// domain links are carried onto the destination node, stored properties and
// children are re-parented, and the source node is removed. A pre-existing
// destination is replaced when overwrite permits, else ErrPrecondition.
// Returns true when the destination was newly created.
func (s *Store) Move(ctx context.Context, res *Resource, destOwner, destRoot, destPath string, overwrite bool) (bool, error) {
	dest, created, err := s.destination(ctx, destOwner, destRoot, destPath, overwrite)
	if err != nil {
		return false, err
	}

	s.carryIdentity(dest, res)
	dest.TaskID = res.TaskID
	dest.ItemID = res.ItemID
	dest.ProductID = res.ProductID

	// clear the source's links first so the one-to-one link uniqueness
	// cannot trip while both rows exist
	res.TaskID = 0
	res.ItemID = 0
	res.ProductID = 0
	if err := s.Update(ctx, res); err != nil {
		return false, err
	}
	if err := s.Update(ctx, dest); err != nil {
		return false, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM props WHERE resource_id = ?`, dest.ID); err != nil {
		return false, fmt.Errorf("clearing destination props: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE props SET resource_id = ? WHERE resource_id = ?`, dest.ID, res.ID); err != nil {
		return false, fmt.Errorf("moving props: %w", err)
	}

	if res.IsCollection {
		children, err := s.Children(ctx, res.ID)
		if err != nil {
			return false, err
		}
		for i := range children {
			child := &children[i]
			twin, err := s.lookup(ctx, dest.Owner, dest.ID, child.Name)
			switch {
			case err == nil:
				if !overwrite {
					return false, ErrPrecondition
				}
				if err := s.deleteRecursive(ctx, twin); err != nil {
					return false, err
				}
			case err != ErrNotFound:
				return false, err
			}
			child.Parent = dest.ID
			child.Owner = dest.Owner
			if err := s.Update(ctx, child); err != nil {
				return false, err
			}
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, res.ID); err != nil {
		return false, fmt.Errorf("deleting moved source %d: %w", res.ID, err)
	}
	return created, nil
}

// Copy duplicates a resource at destPath, retaining the source. Collections
// are copied recursively when depth is "infinity". Domain links are not
// duplicated: a mirror stays linked to exactly one node.
func (s *Store) Copy(ctx context.Context, res *Resource, destOwner, destRoot, destPath string, overwrite bool, depth string) (bool, error) {
	created, err := s.copyOne(ctx, res, destOwner, destRoot, destPath, overwrite)
	if err != nil {
		return false, err
	}
	if res.IsCollection && depth == "infinity" {
		children, err := s.Children(ctx, res.ID)
		if err != nil {
			return false, err
		}
		for i := range children {
			childPath := destPath + "/" + children[i].Name
			if _, err := s.Copy(ctx, &children[i], destOwner, destRoot, childPath, overwrite, depth); err != nil {
				return false, err
			}
		}
	}
	return created, nil
}

func (s *Store) copyOne(ctx context.Context, res *Resource, destOwner, destRoot, destPath string, overwrite bool) (bool, error) {
	dest, created, err := s.destination(ctx, destOwner, destRoot, destPath, overwrite)
	if err != nil {
		return false, err
	}

	s.carryIdentity(dest, res)
	if err := s.Update(ctx, dest); err != nil {
		return false, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM props WHERE resource_id = ?`, dest.ID); err != nil {
		return false, fmt.Errorf("clearing destination props: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO props (resource_id, name, value, is_xml)
		SELECT ?, name, value, is_xml FROM props WHERE resource_id = ?`, dest.ID, res.ID); err != nil {
		return false, fmt.Errorf("copying props: %w", err)
	}
	return created, nil
}

// destination resolves or creates the target node of a move/copy, enforcing
// the overwrite policy.
func (s *Store) destination(ctx context.Context, owner, root, path string, overwrite bool) (*Resource, bool, error) {
	dest, err := s.Resolve(ctx, owner, root, path, ResolveOptions{})
	if err == nil {
		if !overwrite {
			return nil, false, ErrPrecondition
		}
		return dest, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}
	dest, err = s.Resolve(ctx, owner, root, path, ResolveOptions{Create: true})
	if err != nil {
		return nil, false, err
	}
	return dest, true, nil
}

func (s *Store) carryIdentity(dest, src *Resource) {
	dest.IsCollection = src.IsCollection
	dest.UUID = src.UUID
	dest.Size = src.Size
	dest.ContentType = src.ContentType
	dest.CreatedAt = src.CreatedAt
}
