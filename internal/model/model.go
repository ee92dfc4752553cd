package model

import (
	"time"
)

// SubjectType distinguishes the two kinds of grant targets.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
)

// Valid reports whether the subject type is one of the known kinds.
func (s SubjectType) Valid() bool {
	return s == SubjectUser || s == SubjectGroup
}

// AlarmCondition is the trigger condition of an alarm.
type AlarmCondition string

const (
	ConditionAbove AlarmCondition = "above"
	ConditionBelow AlarmCondition = "below"
	ConditionCross AlarmCondition = "cross"
)

// Valid reports whether the condition is one of the known values.
func (c AlarmCondition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow || c == ConditionCross
}

// User is an authenticated principal.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Group owns a many-to-many membership relation to users and can be
// the subject of page grants.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is the unit of sharing. Every grant and every alarm belongs to
// exactly one page.
type Page struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PagePermission is a grant row. At most one row exists per
// (page, subject type, subject id); writes replace the previous row.
type PagePermission struct {
	PageID      string      `json:"page_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	CanView     bool        `json:"can_view"`
	CanEdit     bool        `json:"can_edit"`
}

// Alarm is a ticker alert rule. Alarms inherit all access control from
// their page.
type Alarm struct {
	ID            string         `json:"id"`
	PageID        string         `json:"page_id"`
	Ticker        string         `json:"ticker"`
	Option        string         `json:"option"`
	Condition     AlarmCondition `json:"condition"`
	StrategyID    string         `json:"strategy_id,omitempty"`
	StrategyName  string         `json:"strategy_name,omitempty"`
	CreatedBy     string         `json:"created_by"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
}

// AlarmEvent is an immutable audit record appended whenever an alarm fires.
type AlarmEvent struct {
	ID          string    `json:"id"`
	AlarmID     string    `json:"alarm_id"`
	TriggeredBy string    `json:"triggered_by"`
	Price       *float64  `json:"price,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlarmUpdate describes a field-level partial update. Nil fields are
// left untouched.
type AlarmUpdate struct {
	Ticker    *string         `json:"ticker,omitempty"`
	Option    *string         `json:"option,omitempty"`
	Condition *AlarmCondition `json:"condition,omitempty"`
	Active    *bool           `json:"active,omitempty"`
}
