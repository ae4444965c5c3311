package server

import (
	"encoding/json"

	"blockline/internal/domain"
)

// Request payloads

type TextRequest struct {
	Text string `json:"text" minLength:"1" doc:"Outline lines or a slash command"`
}

type TransitionRequest struct {
	Tasks  []domain.TaskID `json:"tasks" minItems:"1"`
	Revert bool            `json:"revert,omitempty"`
}

type DeleteRequest struct {
	Tasks []domain.TaskID `json:"tasks" minItems:"1"`
	Token string          `json:"token,omitempty" doc:"Token from the first call; omit to request one"`
}

type GrantRequest struct {
	User string `json:"user" minLength:"1"`
	// Edit is nil to revoke, false for view, true for edit.
	Edit *bool `json:"edit,omitempty"`
}

type DevLoginRequest struct {
	User string `json:"user" minLength:"1"`
}

// Responses

type HealthResponse struct {
	Status string `json:"status"`
}

type TasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type StarResponse struct {
	ID      domain.TaskID `json:"id"`
	Starred bool          `json:"starred"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    domain.UserID  `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
