package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"alarmflow/internal/model"
)

// CreateGroup inserts a new group. Group names are unique.
func (s *Store) CreateGroup(ctx context.Context, name string) (model.Group, error) {
	group := model.Group{ID: uuid.NewString(), Name: name}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name) VALUES (?, ?)`, group.ID, group.Name,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Group{}, fmt.Errorf("group %q: %w", name, ErrDuplicate)
		}
		return model.Group{}, fmt.Errorf("cannot create group: %w", err)
	}
	return group, nil
}

// GetGroupByID returns the group with the given id.
func (s *Store) GetGroupByID(ctx context.Context, id string) (model.Group, error) {
	var g model.Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Group{}, fmt.Errorf("cannot load group: %w", err)
	}
	return g, nil
}

// AddGroupMember adds a user to a group. Adding an existing member is
// reported as ErrDuplicate.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, userID, groupID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("membership: %w", ErrDuplicate)
		}
		return fmt.Errorf("cannot add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a user from a group.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_groups WHERE group_id = ? AND user_id = ?`, groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("cannot remove group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// GroupMembers returns the ids of every member of the group.
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_groups WHERE group_id = ?`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("cannot scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// UserGroups returns the ids of every group the user belongs to.
func (s *Store) UserGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM user_groups WHERE user_id = ?`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list user groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("cannot scan group: %w", err)
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

// DeleteGroup removes the group, its memberships and every grant naming
// it in one transaction, so no grant can dangle on a deleted group.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM page_permissions WHERE subject_type = 'group' AND subject_id = ?`, groupID,
		); err != nil {
			return fmt.Errorf("cannot delete group grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_groups WHERE group_id = ?`, groupID,
		); err != nil {
			return fmt.Errorf("cannot delete group memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID)
		if err != nil {
			return fmt.Errorf("cannot delete group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
		}
		return nil
	})
}
