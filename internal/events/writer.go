package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	TypeApplicationCreated      = "application.created"
	TypeApplicationTransitioned = "application.transitioned"
	TypeApplicationArchived     = "application.archived"
	TypeApplicationUnarchived   = "application.unarchived"
	TypeQueueLocked             = "queue.locked"
	TypeQueueUnlocked           = "queue.unlocked"
	TypeStaffGranted            = "staff.granted"
	TypeStaffRevoked            = "staff.revoked"
	TypeReconcileRun            = "reconcile.run"
	TypeAPIKeyCreated           = "api_key.created"
	TypeAPIKeyRevoked           = "api_key.revoked"
)

// Entity kinds.
const (
	KindApplication = "application"
	KindQueue       = "queue"
	KindStaff       = "staff"
	KindReconcile   = "reconcile"
	KindAPIKey      = "api_key"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Record appends a single event in its own transaction.
func (w Writer) Record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.DB == nil {
		return nil
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
