// Package access resolves page permissions. The resolver is stateless:
// every call is a fresh query against current grants and memberships, so
// results can never go stale between a mutation and its broadcast.
package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"alarmflow/internal/model"
)

// Querier is the read surface the resolver needs. Satisfied by *sql.DB
// and *sql.Tx, so permission checks can also run against uncommitted
// transaction state.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Resolver answers "can user U view/edit page P" and "who can currently
// see page P". It holds no state beyond the database handle.
type Resolver struct {
	q Querier
}

func NewResolver(q Querier) *Resolver {
	return &Resolver{q: q}
}

// CanView reports whether the user owns the page, holds a direct viewing
// grant, or belongs to any group holding one. An absent page resolves to
// false rather than an error; callers check existence separately when a
// not-found distinction matters.
func (r *Resolver) CanView(ctx context.Context, userID, pageID string) (bool, error) {
	return r.hasRight(ctx, userID, pageID, "can_view")
}

// CanEdit is CanView substituting the edit flag.
func (r *Resolver) CanEdit(ctx context.Context, userID, pageID string) (bool, error) {
	return r.hasRight(ctx, userID, pageID, "can_edit")
}

func (r *Resolver) hasRight(ctx context.Context, userID, pageID, column string) (bool, error) {
	var ownerID string
	err := r.q.QueryRowContext(ctx,
		`SELECT owner_id FROM pages WHERE id = ?`, pageID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot load page owner: %w", err)
	}

	// Ownership alone authorizes, independent of grant rows.
	if ownerID == userID {
		return true, nil
	}

	// Direct and group paths combine by boolean OR; one EXISTS covers both.
	var exists int
	err = r.q.QueryRowContext(ctx,
		`SELECT 1 FROM page_permissions pp
		 WHERE pp.page_id = ? AND pp.`+column+` = 1 AND (
		     (pp.subject_type = 'user' AND pp.subject_id = ?)
		     OR (pp.subject_type = 'group' AND pp.subject_id IN (
		         SELECT group_id FROM user_groups WHERE user_id = ?))
		 )
		 LIMIT 1`,
		pageID, userID, userID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot resolve %s: %w", column, err)
	}
	return true, nil
}

// AudienceForPage returns every user currently entitled to view the
// page: the owner, direct user-subjects with can_view, and the members
// of every group-subject with can_view. The set is recomputed on every
// call and never cached.
func (r *Resolver) AudienceForPage(ctx context.Context, pageID string) ([]string, error) {
	var ownerID string
	err := r.q.QueryRowContext(ctx,
		`SELECT owner_id FROM pages WHERE id = ?`, pageID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot load page owner: %w", err)
	}

	audience := map[string]struct{}{ownerID: {}}

	rows, err := r.q.QueryContext(ctx,
		`SELECT pp.subject_id FROM page_permissions pp
		 WHERE pp.page_id = ? AND pp.subject_type = 'user' AND pp.can_view = 1
		 UNION
		 SELECT ug.user_id FROM user_groups ug
		 INNER JOIN page_permissions pp ON pp.subject_id = ug.group_id
		 WHERE pp.page_id = ? AND pp.subject_type = 'group' AND pp.can_view = 1`,
		pageID, pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot compute audience: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("cannot scan audience member: %w", err)
		}
		audience[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(audience))
	for id := range audience {
		out = append(out, id)
	}
	return out, nil
}

// AccessiblePages returns every page the user can view: pages they own,
// pages with a direct viewing grant, and pages granted to any of their
// groups. A page matching via several paths appears once.
func (r *Resolver) AccessiblePages(ctx context.Context, userID string) ([]model.Page, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT DISTINCT p.id, p.name, p.owner_id, p.created_at
		 FROM pages p
		 LEFT JOIN page_permissions pp ON pp.page_id = p.id
		 WHERE p.owner_id = ?
		    OR (pp.subject_type = 'user' AND pp.subject_id = ? AND pp.can_view = 1)
		    OR (pp.subject_type = 'group' AND pp.can_view = 1 AND pp.subject_id IN (
		        SELECT group_id FROM user_groups WHERE user_id = ?))
		 ORDER BY p.created_at`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list accessible pages: %w", err)
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

// PageIDs is a convenience over AccessiblePages for initial-state
// assembly.
func PageIDs(pages []model.Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

// DescribeSubject renders a grant subject for log fields.
func DescribeSubject(subjectType model.SubjectType, subjectID string) string {
	return strings.Join([]string{string(subjectType), subjectID}, ":")
}
