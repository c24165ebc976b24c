package domain

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when a username/password pair does not match
// an active user.
var ErrBadCredentials = errors.New("bad credentials")

// AddUser creates a user with a bcrypt-hashed password.
func (s *Store) AddUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, string(hash))
	return err
}

// Authenticate checks the password of an active user. It returns
// ErrBadCredentials both for unknown users and for wrong passwords.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	var hash string
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, active FROM users WHERE username = ?`,
		username).Scan(&hash, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBadCredentials
	}
	if err != nil {
		return err
	}
	if active == 0 {
		return ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// AddGroup creates a group. Creating an existing group is not an error.
func (s *Store) AddGroup(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

// AddUserToGroup puts a user into a group, creating the group if needed.
func (s *Store) AddUserToGroup(ctx context.Context, username, group string) error {
	if err := s.AddGroup(ctx, group); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_groups (user_id, group_id)
		 SELECT u.id, g.id FROM users u, groups g WHERE u.username = ? AND g.name = ?
		 ON CONFLICT (user_id, group_id) DO NOTHING`,
		username, group)
	return err
}

// SharedGroup reports whether two users are members of at least one common
// group. A user always shares with themselves.
func (s *Store) SharedGroup(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM user_groups ga
		 JOIN user_groups gb ON ga.group_id = gb.group_id
		 JOIN users ua ON ua.id = ga.user_id
		 JOIN users ub ON ub.id = gb.user_id
		 WHERE ua.username = ? AND ub.username = ?`,
		a, b).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GroupPeers lists the usernames sharing at least one group with the given
// user, the user included. The result drives which owners' trees are visible
// under the shared namespace.
func (s *Store) GroupPeers(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ub.username
		 FROM user_groups ga
		 JOIN user_groups gb ON ga.group_id = gb.group_id
		 JOIN users ua ON ua.id = ga.user_id
		 JOIN users ub ON ub.id = gb.user_id
		 WHERE ua.username = ?`,
		username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	peers := []string{username}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != username {
			peers = append(peers, name)
		}
	}
	return peers, rows.Err()
}
