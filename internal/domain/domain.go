package domain

import (
	"strconv"
	"strings"
)

// TaskID is the persistent identifier of a stored task.
type TaskID int64

func (id TaskID) String() string { return "#" + strconv.FormatInt(int64(id), 10) }

// ParseTaskID accepts "12" or "#12".
func ParseTaskID(s string) (TaskID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil {
		return 0, err
	}
	return TaskID(n), nil
}

type UserID int64

type User struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	TZ        string `json:"tz"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID        TaskID   `json:"id"`
	Title     string   `json:"title"`
	AssignID  UserID   `json:"-"`
	Assign    string   `json:"assign"`
	Starred   bool     `json:"starred"`
	Archived  bool     `json:"archived"`
	Startable *string  `json:"startable,omitempty" format:"date-time"`
	Deadline  *string  `json:"deadline,omitempty" format:"date-time"`
	Weight    *float64 `json:"weight,omitempty"`
	Link      *string  `json:"link,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type Arrow struct {
	Source TaskID `json:"source"`
	Target TaskID `json:"target"`
}

// Permission is a grant held by Subject over the tasks of Object.
type Permission struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Edit    bool   `json:"edit"`
}

type UserInfo struct {
	Name     string   `json:"name"`
	Since    string   `json:"since" format:"date-time"`
	Executed int64    `json:"executed"`
	TZ       string   `json:"tz"`
	ViewTo   []string `json:"view_to"`
	EditTo   []string `json:"edit_to"`
	ViewFrom []string `json:"view_from"`
	EditFrom []string `json:"edit_from"`
}

type DeletionToken struct {
	ID        string   `json:"id"`
	UserID    UserID   `json:"-"`
	Tasks     []TaskID `json:"tasks"`
	ExpiresAt string   `json:"expires_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    UserID `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    UserID `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
