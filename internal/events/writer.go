package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"blockline/internal/domain"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, actor domain.UserID, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var actorArg any
	if actor != 0 {
		actorArg = int64(actor)
	}
	var entityArg any
	if entityID != "" {
		entityArg = entityID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, entityArg, actorArg, string(data))
	return err
}
