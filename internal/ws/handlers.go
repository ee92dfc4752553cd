package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"alarmflow/internal/access"
	"alarmflow/internal/model"
	"alarmflow/internal/store"
	"alarmflow/logger"
)

// Every handler follows the same shape: decode and validate the
// payload, authorize against the affected page, mutate the store, then
// broadcast to the page's audience. The caller receives its own echo by
// being part of that audience, not as a special case.

type createAlarmPayload struct {
	PageID       string                `json:"page_id"`
	Ticker       *string               `json:"ticker"`
	Option       *string               `json:"option"`
	Condition    *model.AlarmCondition `json:"condition"`
	StrategyID   string                `json:"strategy_id"`
	StrategyName string                `json:"strategy_name"`
}

func (h *Handler) handleCreateAlarm(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p createAlarmPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.PageID == "" {
		return errors.New("page_id is required")
	}

	ok, err := h.resolver.CanEdit(ctx, sess.user.ID, p.PageID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("permission denied: cannot edit this page")
	}

	// A non-empty strategy id dedups against the page's active alarms:
	// a repeat create becomes a partial update of the existing row.
	if p.StrategyID != "" {
		existing, found, err := h.store.FindActiveAlarmByStrategy(ctx, p.PageID, p.StrategyID)
		if err != nil {
			return err
		}
		if found {
			updated, err := h.store.UpdateAlarm(ctx, existing.ID, model.AlarmUpdate{
				Ticker:    p.Ticker,
				Option:    p.Option,
				Condition: p.Condition,
			})
			if err != nil {
				return err
			}
			h.broadcastAlarm(ctx, updated, model.ActionUpdated, alarmData(updated))
			return nil
		}
	}

	if p.Ticker == nil || *p.Ticker == "" {
		return errors.New("ticker is required")
	}
	if p.Option == nil || *p.Option == "" {
		return errors.New("option is required")
	}
	if p.Condition == nil || !p.Condition.Valid() {
		return errors.New("condition must be one of above, below, cross")
	}

	alarm, err := h.store.CreateAlarm(ctx, model.Alarm{
		PageID:       p.PageID,
		Ticker:       *p.Ticker,
		Option:       *p.Option,
		Condition:    *p.Condition,
		StrategyID:   p.StrategyID,
		StrategyName: p.StrategyName,
		CreatedBy:    sess.user.ID,
	})
	if err != nil {
		return err
	}

	h.broadcastAlarm(ctx, alarm, model.ActionCreated, alarmData(alarm))
	return nil
}

type updateAlarmPayload struct {
	AlarmID string `json:"alarm_id"`
	model.AlarmUpdate
}

func (h *Handler) handleUpdateAlarm(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p updateAlarmPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.AlarmID == "" {
		return errors.New("alarm_id is required")
	}
	if p.Condition != nil && !p.Condition.Valid() {
		return errors.New("condition must be one of above, below, cross")
	}

	// The owning page comes from the alarm row, not the request, so a
	// caller cannot assert a page id to escalate rights.
	alarm, err := h.store.GetAlarmByID(ctx, p.AlarmID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("alarm not found")
	}
	if err != nil {
		return err
	}

	ok, err := h.resolver.CanEdit(ctx, sess.user.ID, alarm.PageID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("permission denied: cannot edit this alarm")
	}

	updated, err := h.store.UpdateAlarm(ctx, alarm.ID, p.AlarmUpdate)
	if err != nil {
		return err
	}

	h.broadcastAlarm(ctx, updated, model.ActionUpdated, alarmData(updated))
	return nil
}

type alarmRefPayload struct {
	AlarmID string   `json:"alarm_id"`
	Price   *float64 `json:"price"`
}

func (h *Handler) handleDeleteAlarm(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p alarmRefPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.AlarmID == "" {
		return errors.New("alarm_id is required")
	}

	alarm, err := h.store.GetAlarmByID(ctx, p.AlarmID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("alarm not found")
	}
	if err != nil {
		return err
	}

	ok, err := h.resolver.CanEdit(ctx, sess.user.ID, alarm.PageID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("permission denied: cannot delete this alarm")
	}

	if err := h.store.DeleteAlarm(ctx, alarm.ID); err != nil {
		return err
	}

	h.broadcastAlarm(ctx, alarm, model.ActionDeleted, nil)
	return nil
}

func (h *Handler) handleTriggerAlarm(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p alarmRefPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.AlarmID == "" {
		return errors.New("alarm_id is required")
	}

	alarm, err := h.store.GetAlarmByID(ctx, p.AlarmID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("alarm not found")
	}
	if err != nil {
		return err
	}

	// Triggering only requires view rights, a weaker bar than edit.
	ok, err := h.resolver.CanView(ctx, sess.user.ID, alarm.PageID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("permission denied: cannot access this alarm")
	}

	event, err := h.store.TriggerAlarm(ctx, alarm.ID, sess.user.ID, p.Price)
	if err != nil {
		return err
	}

	data := map[string]interface{}{
		"triggered_by": sess.user.Username,
		"triggered_at": event.TriggeredAt,
	}
	if p.Price != nil {
		data["price"] = *p.Price
	}
	h.broadcastAlarm(ctx, alarm, model.ActionTriggered, data)
	return nil
}

type createPagePayload struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreatePage(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p createPagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.Name == "" {
		return errors.New("name is required")
	}

	page, err := h.store.CreatePage(ctx, p.Name, sess.user.ID)
	if err != nil {
		return err
	}

	sess.sendSuccess("page_created", page)

	// At creation the audience is just the owner; the broadcast keeps
	// the owner's other devices in sync.
	h.notifier.SendToPageAudience(ctx, page.ID, model.Message{
		Type:    model.MsgPageCreated,
		Payload: page,
	})
	return nil
}

type sharePagePayload struct {
	PageID      string            `json:"page_id"`
	SubjectType model.SubjectType `json:"subject_type"`
	SubjectID   string            `json:"subject_id"`
	CanView     *bool             `json:"can_view"`
	CanEdit     *bool             `json:"can_edit"`
}

func (h *Handler) handleSharePage(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p sharePagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.PageID == "" || p.SubjectID == "" {
		return errors.New("page_id and subject_id are required")
	}
	if !p.SubjectType.Valid() {
		return errors.New("subject_type must be user or group")
	}

	page, err := h.store.GetPageByID(ctx, p.PageID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("page not found")
	}
	if err != nil {
		return err
	}
	if page.OwnerID != sess.user.ID {
		return errors.New("permission denied: only the owner can share")
	}

	perm := model.PagePermission{
		PageID:      p.PageID,
		SubjectType: p.SubjectType,
		SubjectID:   p.SubjectID,
		CanView:     true,
		CanEdit:     false,
	}
	if p.CanView != nil {
		perm.CanView = *p.CanView
	}
	if p.CanEdit != nil {
		perm.CanEdit = *p.CanEdit
	}

	if err := h.store.SetPermission(ctx, perm); err != nil {
		return err
	}

	h.log.WithComponent("ws").WithFields(logger.Fields{
		"page_id":  perm.PageID,
		"subject":  access.DescribeSubject(perm.SubjectType, perm.SubjectID),
		"can_view": perm.CanView,
		"can_edit": perm.CanEdit,
	}).Info("page shared")

	// Newly granted viewers get the full page plus alarms immediately,
	// so they never have to fetch separately.
	if perm.CanView {
		for _, userID := range h.grantRecipients(ctx, perm) {
			if userID == page.OwnerID {
				continue
			}
			h.notifier.SendPageSnapshot(ctx, userID, page)
		}
	}

	sess.sendSuccess("page_shared", map[string]interface{}{
		"page_id":      perm.PageID,
		"subject_type": perm.SubjectType,
		"subject_id":   perm.SubjectID,
	})
	return nil
}

type revokeAccessPayload struct {
	PageID      string            `json:"page_id"`
	SubjectType model.SubjectType `json:"subject_type"`
	SubjectID   string            `json:"subject_id"`
}

func (h *Handler) handleRevokeAccess(ctx context.Context, sess *session, raw json.RawMessage) error {
	var p revokeAccessPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if p.PageID == "" || p.SubjectID == "" {
		return errors.New("page_id and subject_id are required")
	}
	if !p.SubjectType.Valid() {
		return errors.New("subject_type must be user or group")
	}

	page, err := h.store.GetPageByID(ctx, p.PageID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("page not found")
	}
	if err != nil {
		return err
	}
	if page.OwnerID != sess.user.ID {
		return errors.New("permission denied: only the owner can revoke")
	}

	// The candidate set is captured inside the delete transaction;
	// residual access is evaluated afterwards, so a user who retains
	// access through another path receives no revocation notice.
	candidates, err := h.store.RevokePermission(ctx, p.PageID, p.SubjectType, p.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("grant not found")
	}
	if err != nil {
		return err
	}

	h.log.WithComponent("ws").WithFields(logger.Fields{
		"page_id":    p.PageID,
		"subject":    access.DescribeSubject(p.SubjectType, p.SubjectID),
		"candidates": len(candidates),
	}).Info("access revoked")

	h.notifier.NotifyRevoked(ctx, p.PageID, candidates)

	sess.sendSuccess("access_revoked", map[string]interface{}{
		"page_id":      p.PageID,
		"subject_type": p.SubjectType,
		"subject_id":   p.SubjectID,
	})
	return nil
}

// grantRecipients resolves a grant subject to concrete users: the user
// itself, or the group's current membership.
func (h *Handler) grantRecipients(ctx context.Context, perm model.PagePermission) []string {
	if perm.SubjectType == model.SubjectUser {
		return []string{perm.SubjectID}
	}
	members, err := h.store.GroupMembers(ctx, perm.SubjectID)
	if err != nil {
		h.log.WithComponent("ws").WithError(err).Warn("cannot resolve grant recipients")
		return nil
	}
	return members
}

func (h *Handler) broadcastAlarm(ctx context.Context, alarm model.Alarm, action string, data map[string]interface{}) {
	h.notifier.SendToPageAudience(ctx, alarm.PageID, model.Message{
		Type: model.MsgAlarmUpdate,
		Payload: model.AlarmUpdateMessage{
			AlarmID: alarm.ID,
			PageID:  alarm.PageID,
			Action:  action,
			Data:    data,
		},
	})
}

// alarmData flattens an alarm into the update payload's data map.
func alarmData(a model.Alarm) map[string]interface{} {
	data := map[string]interface{}{
		"id":        a.ID,
		"page_id":   a.PageID,
		"ticker":    a.Ticker,
		"option":    a.Option,
		"condition": a.Condition,
		"active":    a.Active,
	}
	if a.StrategyID != "" {
		data["strategy_id"] = a.StrategyID
		data["strategy_name"] = a.StrategyName
	}
	if a.LastTriggered != nil {
		data["last_triggered"] = a.LastTriggered
	}
	return data
}
