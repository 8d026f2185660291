package broker

import (
	"context"
	"testing"

	"github.com/org/credbroker/internal/store/storetest"
	"github.com/org/credbroker/pkg/models"
)

func TestHasLegacySettings(t *testing.T) {
	db := storetest.NewFake("personal")
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	if b.HasLegacySettings(context.Background(), db) {
		t.Fatal("fresh database must not report legacy settings")
	}

	db.AddEntry(&models.CredentialEntry{
		Title:      "Example",
		Attributes: map[string]string{models.SettingsKey: `{"Allow":["example.com"],"Deny":[]}`},
	})
	if !b.HasLegacySettings(context.Background(), db) {
		t.Fatal("attribute-stored record must be reported")
	}

	settings := models.DefaultSettings()
	settings.NoMigrationPrompt = true
	b, _ = newTestBroker(t, settings, &fakePrompt{}, db)
	if b.HasLegacySettings(context.Background(), db) {
		t.Fatal("suppressed migration prompt must hide legacy settings")
	}
}

func TestMigrateLegacySettings(t *testing.T) {
	db := storetest.NewFake("personal")
	record := `{"Allow":["example.com"],"Deny":[]}`
	entry := db.AddEntry(&models.CredentialEntry{
		Title:      "Example",
		Attributes: map[string]string{models.SettingsKey: record, "Keep": "me"},
	})
	container := db.AddEntry(&models.CredentialEntry{
		Title: legacyMarkerTitle,
		Attributes: map[string]string{
			legacyKeyPrefix + "chrome": "legacy-pub-key",
		},
	})
	legacyGroup, _ := db.CreateGroup(context.Background(), db.Root, legacyGroupName)

	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)
	migrated, err := b.MigrateLegacySettings(context.Background(), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 1 {
		t.Fatalf("expected 1 migrated entry, got %d", migrated)
	}

	if entry.CustomData[models.SettingsKey] != record {
		t.Fatal("record must move into custom data")
	}
	if _, ok := entry.Attributes[models.SettingsKey]; ok {
		t.Fatal("legacy attribute must be removed")
	}
	if entry.Attributes["Keep"] != "me" {
		t.Fatal("unrelated attributes must survive")
	}

	if db.CustomData[ClientKeyPrefix+"chrome"] != "legacy-pub-key" {
		t.Fatal("legacy client key must move to database custom data")
	}
	if !container.Recycled {
		t.Fatal("legacy key container must be recycled")
	}

	g, err := db.FindGroupByUUID(context.Background(), legacyGroup.UUID)
	if err != nil || g.Name != DefaultGroupName {
		t.Fatalf("legacy group must be renamed, got %+v err=%v", g, err)
	}
}

func TestMigrateLegacySettingsNeverOverwritesKeys(t *testing.T) {
	db := storetest.NewFake("personal")
	db.CustomData[ClientKeyPrefix+"chrome"] = "current-key"
	db.AddEntry(&models.CredentialEntry{
		Title:      legacyMarkerTitle,
		Attributes: map[string]string{legacyKeyPrefix + "chrome": "stale-key"},
	})

	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)
	if _, err := b.MigrateLegacySettings(context.Background(), db, nil); err != nil {
		t.Fatal(err)
	}
	if db.CustomData[ClientKeyPrefix+"chrome"] != "current-key" {
		t.Fatal("migration must not overwrite an existing key")
	}
}

func TestMigrateLegacySettingsCancel(t *testing.T) {
	db := storetest.NewFake("personal")
	for i := 0; i < 4; i++ {
		db.AddEntry(&models.CredentialEntry{
			Title:      "Example",
			Attributes: map[string]string{models.SettingsKey: `{"Allow":[],"Deny":[]}`},
		})
	}

	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)
	calls := 0
	migrated, err := b.MigrateLegacySettings(context.Background(), db, func(done, total int) bool {
		calls++
		return done < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 2 {
		t.Fatalf("cancelled run must keep completed work, migrated=%d", migrated)
	}
	if calls != 3 {
		t.Fatalf("expected 3 progress calls, got %d", calls)
	}
}

func TestMigrateLegacyData(t *testing.T) {
	record := `{"Allow":["example.com"],"Deny":[]}`
	seed := func() *storetest.Fake {
		db := storetest.NewFake("personal")
		db.AddEntry(&models.CredentialEntry{
			Title:      "Example",
			Attributes: map[string]string{models.SettingsKey: record},
		})
		return db
	}

	// Confirmed: legacy attributes converted.
	db := seed()
	prompt := &fakePrompt{confirmAnswer: true}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)
	b.MigrateLegacyData(context.Background(), db)
	if prompt.confirmCalls != 1 {
		t.Fatalf("expected one confirmation, got %d", prompt.confirmCalls)
	}
	entries, _ := db.EntriesRecursive(context.Background())
	if _, ok := entries[0].Attributes[models.SettingsKey]; ok {
		t.Fatal("confirmed run must convert the legacy attribute")
	}
	if entries[0].CustomData[models.SettingsKey] != record {
		t.Fatal("record must land in custom data")
	}

	// Declined: data left untouched.
	db = seed()
	prompt = &fakePrompt{confirmAnswer: false}
	b, _ = newTestBroker(t, models.DefaultSettings(), prompt, db)
	b.MigrateLegacyData(context.Background(), db)
	if prompt.confirmCalls != 1 {
		t.Fatalf("expected one confirmation, got %d", prompt.confirmCalls)
	}
	entries, _ = db.EntriesRecursive(context.Background())
	if entries[0].Attributes[models.SettingsKey] != record {
		t.Fatal("declined run must leave the attribute in place")
	}

	// Suppressed: no prompt at all.
	db = seed()
	prompt = &fakePrompt{confirmAnswer: true}
	settings := models.DefaultSettings()
	settings.NoMigrationPrompt = true
	b, _ = newTestBroker(t, settings, prompt, db)
	b.MigrateLegacyData(context.Background(), db)
	if prompt.confirmCalls != 0 {
		t.Fatal("suppressed migration must not prompt")
	}

	// Locked database: nothing happens.
	db = seed()
	db.Lock()
	prompt = &fakePrompt{confirmAnswer: true}
	b, _ = newTestBroker(t, models.DefaultSettings(), prompt, db)
	b.MigrateLegacyData(context.Background(), db)
	if prompt.confirmCalls != 0 {
		t.Fatal("locked database must not prompt")
	}
}
