package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends rows to the append-only events table. Appends take the
// caller's transaction so an event is only recorded when the mutation that
// caused it commits.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// EventPayload is the free-form JSON body of one event.
type EventPayload map[string]any

// Append records one event inside tx. An empty entityID is stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, eventType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var entity any
	if entityID != "" {
		entity = entityID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, eventType, entityKind, entity, actorID, string(data))
	return err
}
