package model

import (
	"encoding/json"
)

// Outbound message type discriminators.
const (
	MsgInitialState = "initial_state"
	MsgSuccess      = "success"
	MsgError        = "error"
	MsgAlarmUpdate  = "alarm_update"
	MsgPageCreated  = "page_created"
	MsgPageShared   = "page_shared"
	MsgPageRevoked  = "page_access_revoked"
)

// Alarm update actions carried in the alarm_update payload.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionTriggered = "triggered"
)

// Inbound action discriminators.
const (
	ActCreateAlarm  = "create_alarm"
	ActUpdateAlarm  = "update_alarm"
	ActDeleteAlarm  = "delete_alarm"
	ActTriggerAlarm = "trigger_alarm"
	ActCreatePage   = "create_page"
	ActSharePage    = "share_page"
	ActRevokeAccess = "revoke_access"
)

// Envelope is an inbound websocket message: an action discriminator
// plus an action-specific payload left opaque until dispatch.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message is an outbound websocket message.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// AlarmUpdateMessage is the payload of an alarm_update push.
type AlarmUpdateMessage struct {
	AlarmID string                 `json:"alarm_id"`
	PageID  string                 `json:"page_id"`
	Action  string                 `json:"action"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// PageSnapshot bundles a page with its alarms. Sent to principals who
// just gained access so they never need a separate fetch.
type PageSnapshot struct {
	Page   Page    `json:"page"`
	Alarms []Alarm `json:"alarms"`
}

// InitialState is pushed once per connection right after registration.
type InitialState struct {
	User   User    `json:"user"`
	Pages  []Page  `json:"pages"`
	Alarms []Alarm `json:"alarms"`
}

func ErrorMessage(text string) Message {
	return Message{Type: MsgError, Payload: map[string]interface{}{"message": text}}
}

func SuccessMessage(action string, data interface{}) Message {
	return Message{Type: MsgSuccess, Payload: map[string]interface{}{"action": action, "data": data}}
}
