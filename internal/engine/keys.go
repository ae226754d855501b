package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dreamie/internal/domain"
	"dreamie/internal/engine/auth"
	"dreamie/internal/events"
	"dreamie/internal/repo"
)

// APIKeyPrefix marks keys issued here so they are easy to spot in configs.
const APIKeyPrefix = "dk_"

// CreateAPIKey issues a key that authenticates as owner. Anyone may issue
// keys for themselves; issuing for another account is staff only. The
// plaintext is returned once and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, owner, name string) (domain.APIKey, string, error) {
	actor, err := e.ResolveActor(ctx, actor)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = actor.AccountID
	}
	if owner != actor.AccountID && !actor.Staff {
		return domain.APIKey{}, "", auth.ForbiddenError{Action: "issue api keys for others", Reason: "staff only"}
	}
	if e.DB == nil {
		return domain.APIKey{}, "", errors.New("settings database not configured")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := APIKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		AccountID: owner,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().Format(time.RFC3339),
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.TypeAPIKeyCreated, events.KindAPIKey, key.ID, actor.AccountID, events.EventPayload{"owner": owner, "name": key.Name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// APIKeys lists the actor's keys, or every key for staff when all is set.
func (e Engine) APIKeys(ctx context.Context, actor domain.Actor, all bool) ([]domain.APIKey, error) {
	actor, err := e.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if e.DB == nil {
		return nil, nil
	}
	owner := actor.AccountID
	if all {
		if !actor.Staff {
			return nil, auth.ForbiddenError{Action: "list all api keys", Reason: "staff only"}
		}
		owner = ""
	}
	return e.Repo.ListAPIKeys(ctx, owner)
}

// RevokeAPIKey deletes a key. Owners may revoke their own; staff any.
func (e Engine) RevokeAPIKey(ctx context.Context, actor domain.Actor, id string) error {
	actor, err := e.ResolveActor(ctx, actor)
	if err != nil {
		return err
	}
	if e.DB == nil {
		return errors.New("settings database not configured")
	}
	key, err := e.Repo.GetAPIKey(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if key.AccountID != actor.AccountID && !actor.Staff {
		return auth.ForbiddenError{Action: "revoke api key", Reason: "not the owner"}
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKeyTx(ctx, tx, key.ID); err != nil {
			return fmt.Errorf("revoke api key %s: %w", id, err)
		}
		return e.writer().Append(ctx, tx, events.TypeAPIKeyRevoked, events.KindAPIKey, key.ID, actor.AccountID, events.EventPayload{"owner": key.AccountID})
	})
}

// Authenticate maps a presented key to its account.
func (e Engine) Authenticate(ctx context.Context, plain string) (domain.APIKey, error) {
	if strings.TrimSpace(plain) == "" || e.DB == nil {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
}
