// Package access classifies credential entries as allowed, denied or
// unknown for a request, backed by per-entry permission records persisted
// in entry custom data.
package access

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// Load returns the permission record stored on the entry. The second
// return value is false when the entry carries no record at all, which is
// distinct from an explicit empty record.
func Load(entry *models.CredentialEntry) (*models.PermissionRecord, bool) {
	raw, ok := entry.CustomData[models.SettingsKey]
	if !ok || raw == "" {
		return &models.PermissionRecord{}, false
	}
	var rec models.PermissionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return &models.PermissionRecord{}, false
	}
	return &rec, true
}

// MarshalRecord returns the custom-data serialization of a record.
func MarshalRecord(rec *models.PermissionRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Save serializes the record into the entry's custom data and persists
// the entry through its database.
func Save(ctx context.Context, db store.Database, entry *models.CredentialEntry, rec *models.PermissionRecord) error {
	raw, err := MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("encoding permission record: %w", err)
	}
	if entry.CustomData == nil {
		entry.CustomData = map[string]string{}
	}
	entry.CustomData[models.SettingsKey] = raw
	if err := db.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("persisting permission record: %w", err)
	}
	return nil
}
