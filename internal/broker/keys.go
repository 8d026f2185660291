package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// maxKeyNamingAttempts bounds the naming/overwrite confirmation loop.
const maxKeyNamingAttempts = 8

// StoreClientKey associates a new client public key with the active
// database. The user names the association; reusing an existing label
// replaces the stored key only after explicit confirmation. Returns the
// chosen label, or "" when the user declines or the database locks
// mid-prompt.
func (b *Broker) StoreClientKey(ctx context.Context, key string) (string, error) {
	db := b.databases.Active()
	if db == nil || db.IsLocked() {
		return "", nil
	}

	for attempt := 0; attempt < maxKeyNamingAttempts; attempt++ {
		label, ok, err := b.prompt.InputText(ctx, "New key association request",
			fmt.Sprintf("You have received an association request for the database %q.\n"+
				"Give the connection a unique name or ID, for example: chrome-laptop.", db.Name()))
		if err != nil {
			return "", err
		}
		if !ok || label == "" || db.IsLocked() {
			return "", nil
		}

		exists, err := db.ContainsCustomData(ctx, ClientKeyPrefix+label)
		if err != nil {
			return "", err
		}
		if exists {
			overwrite, err := b.prompt.Confirm(ctx, "Overwrite existing key?",
				fmt.Sprintf("A shared encryption key with the name %q already exists.\n"+
					"Do you want to overwrite it?", label))
			if err != nil {
				return "", err
			}
			if !overwrite {
				continue
			}
		}

		if err := db.SetCustomData(ctx, ClientKeyPrefix+label, key); err != nil {
			return "", fmt.Errorf("storing client key: %w", err)
		}
		if err := db.SetCustomData(ctx, KeyCreatedPrefix+label,
			time.Now().UTC().Format(time.RFC3339)); err != nil {
			return "", fmt.Errorf("storing client key timestamp: %w", err)
		}
		return label, nil
	}
	return "", nil
}

// ClientKey returns the stored public key for a label, or "" when none is
// stored.
func (b *Broker) ClientKey(ctx context.Context, label string) (string, error) {
	db := b.databases.Active()
	if db == nil {
		return "", nil
	}
	key, err := db.GetCustomData(ctx, ClientKeyPrefix+label)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrLocked) {
		return "", nil
	}
	return key, err
}

// ListClientKeys returns all stored client keys of the active database,
// ordered by label.
func (b *Broker) ListClientKeys(ctx context.Context) ([]models.ClientKey, error) {
	db := b.databases.Active()
	if db == nil {
		return nil, nil
	}
	stored, err := db.ListCustomData(ctx, ClientKeyPrefix)
	if err != nil {
		return nil, err
	}

	var keys []models.ClientKey
	for k, v := range stored {
		// Timestamp rows share the key prefix; they are not associations.
		if strings.HasPrefix(k, KeyCreatedPrefix) {
			continue
		}
		label := strings.TrimPrefix(k, ClientKeyPrefix)
		ck := models.ClientKey{Label: label, PublicKey: v}
		if raw, err := db.GetCustomData(ctx, KeyCreatedPrefix+label); err == nil {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				ck.CreatedAt = t
			}
		}
		keys = append(keys, ck)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Label < keys[j].Label })
	return keys, nil
}

// RemoveClientKey revokes a stored association. Returns store.ErrNotFound
// when no key is stored under the label.
func (b *Broker) RemoveClientKey(ctx context.Context, label string) error {
	db := b.databases.Active()
	if db == nil {
		return store.ErrNotFound
	}
	exists, err := db.ContainsCustomData(ctx, ClientKeyPrefix+label)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	if err := db.RemoveCustomData(ctx, ClientKeyPrefix+label); err != nil {
		return err
	}
	return db.RemoveCustomData(ctx, KeyCreatedPrefix+label)
}
