package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"alarmflow/internal/model"
	"alarmflow/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(logger.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUserAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash-1")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Username)

	byName, hash, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, user.ID, byName.ID)
	require.Equal(t, "hash-1", hash)

	_, err = s.CreateUser(ctx, "alice", "hash-2")
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePageWritesOwnerSelfGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, "alice", "h")
	require.NoError(t, err)

	page, err := s.CreatePage(ctx, "Watchlist", owner.ID)
	require.NoError(t, err)

	var canView, canEdit bool
	err = s.DB().QueryRowContext(ctx,
		`SELECT can_view, can_edit FROM page_permissions
		 WHERE page_id = ? AND subject_type = 'user' AND subject_id = ?`,
		page.ID, owner.ID,
	).Scan(&canView, &canEdit)
	require.NoError(t, err, "page creation must atomically write the owner grant")
	require.True(t, canView)
	require.True(t, canEdit)
}

func TestPermissionUpsertReplacesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	other, _ := s.CreateUser(ctx, "bob", "h")
	page, err := s.CreatePage(ctx, "P", owner.ID)
	require.NoError(t, err)

	perm := model.PagePermission{
		PageID: page.ID, SubjectType: model.SubjectUser, SubjectID: other.ID,
		CanView: true, CanEdit: true,
	}
	require.NoError(t, s.SetPermission(ctx, perm))

	perm.CanEdit = false
	require.NoError(t, s.SetPermission(ctx, perm))

	var count int
	var canEdit bool
	err = s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(can_edit) FROM page_permissions
		 WHERE page_id = ? AND subject_type = 'user' AND subject_id = ?`,
		page.ID, other.ID,
	).Scan(&count, &canEdit)
	require.NoError(t, err)
	require.Equal(t, 1, count, "a second grant for the same subject must replace the first")
	require.False(t, canEdit)
}

func TestRevokePermissionReturnsCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	bob, _ := s.CreateUser(ctx, "bob", "h")
	carol, _ := s.CreateUser(ctx, "carol", "h")
	page, _ := s.CreatePage(ctx, "P", owner.ID)

	group, err := s.CreateGroup(ctx, "traders")
	require.NoError(t, err)
	require.NoError(t, s.AddGroupMember(ctx, group.ID, bob.ID))
	require.NoError(t, s.AddGroupMember(ctx, group.ID, carol.ID))

	require.NoError(t, s.SetPermission(ctx, model.PagePermission{
		PageID: page.ID, SubjectType: model.SubjectGroup, SubjectID: group.ID, CanView: true,
	}))

	candidates, err := s.RevokePermission(ctx, page.ID, model.SubjectGroup, group.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{bob.ID, carol.ID}, candidates)

	// Row is gone: a second revoke reports the missing grant.
	_, err = s.RevokePermission(ctx, page.ID, model.SubjectGroup, group.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGroupCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	bob, _ := s.CreateUser(ctx, "bob", "h")
	page, _ := s.CreatePage(ctx, "P", owner.ID)

	group, _ := s.CreateGroup(ctx, "traders")
	require.NoError(t, s.AddGroupMember(ctx, group.ID, bob.ID))
	require.NoError(t, s.SetPermission(ctx, model.PagePermission{
		PageID: page.ID, SubjectType: model.SubjectGroup, SubjectID: group.ID, CanView: true,
	}))

	require.NoError(t, s.DeleteGroup(ctx, group.ID))

	var grants int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM page_permissions WHERE subject_type = 'group' AND subject_id = ?`, group.ID,
	).Scan(&grants))
	require.Zero(t, grants, "group deletion must remove grants naming the group")

	groups, err := s.UserGroups(ctx, bob.ID)
	require.NoError(t, err)
	require.Empty(t, groups, "group deletion must remove memberships")

	require.ErrorIs(t, s.DeleteGroup(ctx, group.ID), ErrNotFound)
}

func TestAlarmLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	page, _ := s.CreatePage(ctx, "P", owner.ID)

	alarm, err := s.CreateAlarm(ctx, model.Alarm{
		PageID: page.ID, Ticker: "AAPL", Option: "call",
		Condition: model.ConditionAbove, CreatedBy: owner.ID,
	})
	require.NoError(t, err)
	require.True(t, alarm.Active)
	require.Nil(t, alarm.LastTriggered)

	ticker := "TSLA"
	active := false
	updated, err := s.UpdateAlarm(ctx, alarm.ID, model.AlarmUpdate{Ticker: &ticker, Active: &active})
	require.NoError(t, err)
	require.Equal(t, "TSLA", updated.Ticker)
	require.False(t, updated.Active)
	require.Equal(t, "call", updated.Option, "unspecified fields stay untouched")

	// Empty update is a no-op read-back.
	same, err := s.UpdateAlarm(ctx, alarm.ID, model.AlarmUpdate{})
	require.NoError(t, err)
	require.Equal(t, updated, same)

	require.NoError(t, s.DeleteAlarm(ctx, alarm.ID))
	_, err = s.GetAlarmByID(ctx, alarm.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindActiveAlarmByStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	page, _ := s.CreatePage(ctx, "P", owner.ID)

	_, found, err := s.FindActiveAlarmByStrategy(ctx, page.ID, "S1")
	require.NoError(t, err)
	require.False(t, found)

	alarm, err := s.CreateAlarm(ctx, model.Alarm{
		PageID: page.ID, Ticker: "AAPL", Option: "call",
		Condition: model.ConditionAbove, StrategyID: "S1", CreatedBy: owner.ID,
	})
	require.NoError(t, err)

	got, found, err := s.FindActiveAlarmByStrategy(ctx, page.ID, "S1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, alarm.ID, got.ID)

	// Deactivated alarms no longer occupy the strategy slot.
	inactive := false
	_, err = s.UpdateAlarm(ctx, alarm.ID, model.AlarmUpdate{Active: &inactive})
	require.NoError(t, err)

	_, found, err = s.FindActiveAlarmByStrategy(ctx, page.ID, "S1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestTriggerAlarmRecordsEventAndStampsAlarm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	page, _ := s.CreatePage(ctx, "P", owner.ID)
	alarm, _ := s.CreateAlarm(ctx, model.Alarm{
		PageID: page.ID, Ticker: "AAPL", Option: "call",
		Condition: model.ConditionCross, CreatedBy: owner.ID,
	})

	price := 123.45
	event, err := s.TriggerAlarm(ctx, alarm.ID, owner.ID, &price)
	require.NoError(t, err)
	require.NotNil(t, event.Price)
	require.Equal(t, price, *event.Price)

	stamped, err := s.GetAlarmByID(ctx, alarm.ID)
	require.NoError(t, err)
	require.NotNil(t, stamped.LastTriggered)

	_, err = s.TriggerAlarm(ctx, alarm.ID, owner.ID, nil)
	require.NoError(t, err)

	events, err := s.AlarmEvents(ctx, alarm.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	if events[0].Price == nil {
		require.NotNil(t, events[1].Price)
	}
}

func TestAlarmsForPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, _ := s.CreateUser(ctx, "alice", "h")
	p1, _ := s.CreatePage(ctx, "P1", owner.ID)
	p2, _ := s.CreatePage(ctx, "P2", owner.ID)
	p3, _ := s.CreatePage(ctx, "P3", owner.ID)

	for _, pageID := range []string{p1.ID, p2.ID, p3.ID} {
		_, err := s.CreateAlarm(ctx, model.Alarm{
			PageID: pageID, Ticker: "AAPL", Option: "call",
			Condition: model.ConditionAbove, CreatedBy: owner.ID,
		})
		require.NoError(t, err)
	}

	alarms, err := s.AlarmsForPages(ctx, []string{p1.ID, p3.ID})
	require.NoError(t, err)
	require.Len(t, alarms, 2)

	none, err := s.AlarmsForPages(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestErrNotFoundIsDistinguishable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPageByID(ctx, "nope")
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrDuplicate))
}
