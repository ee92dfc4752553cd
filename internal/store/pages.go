package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alarmflow/internal/model"
)

// CreatePage inserts a page and the owner's explicit self-grant in one
// transaction. The self-grant keeps audience computation free of an
// ownership special case; ownership alone still authorizes even if the
// row were missing.
func (s *Store) CreatePage(ctx context.Context, name, ownerID string) (model.Page, error) {
	page := model.Page{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			page.ID, page.Name, page.OwnerID, page.CreatedAt,
		); err != nil {
			return fmt.Errorf("cannot create page: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO page_permissions (page_id, subject_type, subject_id, can_view, can_edit)
			 VALUES (?, 'user', ?, 1, 1)`,
			page.ID, page.OwnerID,
		); err != nil {
			return fmt.Errorf("cannot create owner grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Page{}, err
	}
	return page, nil
}

// GetPageByID returns the page with the given id.
func (s *Store) GetPageByID(ctx context.Context, id string) (model.Page, error) {
	var p model.Page
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM pages WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Page{}, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Page{}, fmt.Errorf("cannot load page: %w", err)
	}
	return p, nil
}

// SetPermission upserts the grant row for (page, subject). A new grant
// for the same pair replaces the old one.
func (s *Store) SetPermission(ctx context.Context, perm model.PagePermission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO page_permissions (page_id, subject_type, subject_id, can_view, can_edit)
		 VALUES (?, ?, ?, ?, ?)`,
		perm.PageID, string(perm.SubjectType), perm.SubjectID, perm.CanView, perm.CanEdit,
	)
	if err != nil {
		return fmt.Errorf("cannot set permission: %w", err)
	}
	return nil
}

// RevokePermission deletes the grant row for (page, subject) and returns
// the candidate set of users who may have lost access: the subject user
// itself, or the group's membership as of the delete. Candidates are
// derived inside the same transaction as the delete so a concurrent
// membership change cannot slip between the two.
func (s *Store) RevokePermission(ctx context.Context, pageID string, subjectType model.SubjectType, subjectID string) ([]string, error) {
	var candidates []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		switch subjectType {
		case model.SubjectUser:
			candidates = []string{subjectID}
		case model.SubjectGroup:
			rows, err := tx.QueryContext(ctx,
				`SELECT user_id FROM user_groups WHERE group_id = ?`, subjectID,
			)
			if err != nil {
				return fmt.Errorf("cannot list group members: %w", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("cannot scan member: %w", err)
				}
				candidates = append(candidates, id)
			}
			// Close before the delete: the transaction's connection can
			// run only one statement at a time.
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()
		default:
			return fmt.Errorf("unknown subject type %q", subjectType)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM page_permissions WHERE page_id = ? AND subject_type = ? AND subject_id = ?`,
			pageID, string(subjectType), subjectID,
		)
		if err != nil {
			return fmt.Errorf("cannot revoke permission: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("grant: %w", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// PagesGrantedToGroup returns every page the group holds a viewing
// grant on. Used for the catch-up push when a user joins a group.
func (s *Store) PagesGrantedToGroup(ctx context.Context, groupID string) ([]model.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.owner_id, p.created_at
		 FROM pages p
		 INNER JOIN page_permissions pp ON pp.page_id = p.id
		 WHERE pp.subject_type = 'group' AND pp.subject_id = ? AND pp.can_view = 1`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list group pages: %w", err)
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		var p model.Page
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("cannot scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
