package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alarmflow/internal/model"
)

const alarmColumns = `id, page_id, ticker, option, condition, strategy_id, strategy_name,
	created_by, active, created_at, last_triggered`

func scanAlarm(row interface{ Scan(...any) error }) (model.Alarm, error) {
	var (
		a             model.Alarm
		lastTriggered sql.NullTime
	)
	err := row.Scan(&a.ID, &a.PageID, &a.Ticker, &a.Option, &a.Condition,
		&a.StrategyID, &a.StrategyName, &a.CreatedBy, &a.Active, &a.CreatedAt, &lastTriggered)
	if err != nil {
		return model.Alarm{}, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		a.LastTriggered = &t
	}
	return a, nil
}

// CreateAlarm inserts a new alarm on a page.
func (s *Store) CreateAlarm(ctx context.Context, a model.Alarm) (model.Alarm, error) {
	a.ID = uuid.NewString()
	a.Active = true
	a.CreatedAt = time.Now().UTC()
	a.LastTriggered = nil

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (id, page_id, ticker, option, condition, strategy_id, strategy_name, created_by, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		a.ID, a.PageID, a.Ticker, a.Option, string(a.Condition), a.StrategyID, a.StrategyName, a.CreatedBy, a.CreatedAt,
	)
	if err != nil {
		return model.Alarm{}, fmt.Errorf("cannot create alarm: %w", err)
	}
	return a, nil
}

// GetAlarmByID returns the alarm with the given id.
func (s *Store) GetAlarmByID(ctx context.Context, id string) (model.Alarm, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id,
	)
	a, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alarm{}, fmt.Errorf("alarm %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Alarm{}, fmt.Errorf("cannot load alarm: %w", err)
	}
	return a, nil
}

// FindActiveAlarmByStrategy returns the active alarm carrying the given
// non-empty strategy id on a page, if one exists. Within one page at
// most one active alarm carries a given strategy id.
func (s *Store) FindActiveAlarmByStrategy(ctx context.Context, pageID, strategyID string) (model.Alarm, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms
		 WHERE page_id = ? AND strategy_id = ? AND active = 1
		 LIMIT 1`,
		pageID, strategyID,
	)
	a, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alarm{}, false, nil
	}
	if err != nil {
		return model.Alarm{}, false, fmt.Errorf("cannot find alarm by strategy: %w", err)
	}
	return a, true, nil
}

// AlarmsForPages returns every alarm belonging to the given pages.
func (s *Store) AlarmsForPages(ctx context.Context, pageIDs []string) ([]model.Alarm, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(pageIDs)), ",")
	args := make([]any, len(pageIDs))
	for i, id := range pageIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE page_id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list alarms: %w", err)
	}
	defer rows.Close()

	var alarms []model.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan alarm: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

// UpdateAlarm applies a field-level partial update and returns the
// resulting row. Nil fields in upd are left untouched.
func (s *Store) UpdateAlarm(ctx context.Context, id string, upd model.AlarmUpdate) (model.Alarm, error) {
	var (
		sets []string
		args []any
	)
	if upd.Ticker != nil {
		sets = append(sets, "ticker = ?")
		args = append(args, *upd.Ticker)
	}
	if upd.Option != nil {
		sets = append(sets, "option = ?")
		args = append(args, *upd.Option)
	}
	if upd.Condition != nil {
		sets = append(sets, "condition = ?")
		args = append(args, string(*upd.Condition))
	}
	if upd.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *upd.Active)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx,
			`UPDATE alarms SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
		)
		if err != nil {
			return model.Alarm{}, fmt.Errorf("cannot update alarm: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.Alarm{}, fmt.Errorf("alarm %s: %w", id, ErrNotFound)
		}
	}
	return s.GetAlarmByID(ctx, id)
}

// DeleteAlarm removes the alarm and, via cascade, its events.
func (s *Store) DeleteAlarm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("cannot delete alarm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alarm %s: %w", id, ErrNotFound)
	}
	return nil
}

// TriggerAlarm appends an AlarmEvent and stamps the alarm's
// last_triggered in one transaction.
func (s *Store) TriggerAlarm(ctx context.Context, alarmID, triggeredBy string, price *float64) (model.AlarmEvent, error) {
	event := model.AlarmEvent{
		ID:          uuid.NewString(),
		AlarmID:     alarmID,
		TriggeredBy: triggeredBy,
		Price:       price,
		TriggeredAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alarm_events (id, alarm_id, triggered_by, price, triggered_at)
			 VALUES (?, ?, ?, ?, ?)`,
			event.ID, event.AlarmID, event.TriggeredBy, event.Price, event.TriggeredAt,
		); err != nil {
			return fmt.Errorf("cannot record alarm event: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE alarms SET last_triggered = ? WHERE id = ?`, event.TriggeredAt, alarmID,
		); err != nil {
			return fmt.Errorf("cannot stamp alarm: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AlarmEvent{}, err
	}
	return event, nil
}

// AlarmEvents returns the most recent trigger history of an alarm.
func (s *Store) AlarmEvents(ctx context.Context, alarmID string, limit int) ([]model.AlarmEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alarm_id, triggered_by, price, triggered_at
		 FROM alarm_events WHERE alarm_id = ?
		 ORDER BY triggered_at DESC LIMIT ?`,
		alarmID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list alarm events: %w", err)
	}
	defer rows.Close()

	var events []model.AlarmEvent
	for rows.Next() {
		var (
			e     model.AlarmEvent
			price sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.AlarmID, &e.TriggeredBy, &price, &e.TriggeredAt); err != nil {
			return nil, fmt.Errorf("cannot scan alarm event: %w", err)
		}
		if price.Valid {
			p := price.Float64
			e.Price = &p
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
