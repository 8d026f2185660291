package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// Legacy storage conventions migrated into custom data.
const (
	// legacyKeyPrefix marked client keys stored as entry attributes.
	legacyKeyPrefix = "Browser Key: "
	// legacyMarkerTitle named the entry that used to collect client keys.
	legacyMarkerTitle = "HTTP Settings"
	// legacyGroupName is the pre-rename default group.
	legacyGroupName = "HTTP Passwords"
)

// legacySettingsAttrs are attribute names whose values are permission
// records that now belong in entry custom data.
var legacySettingsAttrs = []string{models.SettingsKey, legacyMarkerTitle}

// MigrationProgress reports bulk-migration progress. Returning false
// cancels the run; work already persisted stays committed.
type MigrationProgress func(done, total int) bool

// MigrateLegacyData runs the full legacy-conversion flow for an opened or
// freshly unlocked database: detect legacy attribute storage, ask the user
// once, then convert. Suppressed entirely by the no-migration-prompt
// setting; a declined prompt leaves the data untouched.
func (b *Broker) MigrateLegacyData(ctx context.Context, db store.Database) {
	if db == nil || db.IsLocked() || !b.HasLegacySettings(ctx, db) {
		return
	}
	ok, err := b.prompt.Confirm(ctx, "Legacy browser integration data",
		fmt.Sprintf("The database %q stores browser integration data in legacy attributes.\n"+
			"Convert it to the current format now?", db.Name()))
	if err != nil || !ok {
		return
	}
	migrated, err := b.MigrateLegacySettings(ctx, db, func(done, total int) bool {
		log.Debug().Int("done", done).Int("total", total).Msg("legacy migration progress")
		return true
	})
	if err != nil {
		log.Warn().Err(err).Str("database", db.Name()).Msg("legacy migration failed")
		return
	}
	log.Info().Int("migrated", migrated).Str("database", db.Name()).Msg("legacy data converted")
}

// HasLegacySettings reports whether the database still stores permission
// records or client keys in the legacy attribute locations.
func (b *Broker) HasLegacySettings(ctx context.Context, db store.Database) bool {
	if b.settings.NoMigrationPrompt {
		return false
	}
	entries, err := db.EntriesRecursive(ctx)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		for _, name := range legacySettingsAttrs {
			if _, ok := entry.Attributes[name]; ok {
				return true
			}
		}
		if strings.Contains(entry.Title, legacyMarkerTitle) {
			return true
		}
	}
	return false
}

// MigrateLegacySettings converts legacy attribute storage to custom data:
// permission-record attributes move onto each entry, key-container entries
// are emptied into database custom data and recycled, and the legacy
// default group is renamed. Each entry is persisted individually, so a
// cancelled run keeps completed work.
func (b *Broker) MigrateLegacySettings(ctx context.Context, db store.Database, progress MigrationProgress) (migrated int, err error) {
	entries, err := db.EntriesRecursive(ctx)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if progress != nil && !progress(i, len(entries)) {
			log.Info().Int("done", i).Msg("legacy migration cancelled")
			return migrated, nil
		}

		if b.migrateEntrySettings(ctx, db, entry) {
			migrated++
		}

		if strings.Contains(entry.Title, legacyMarkerTitle) {
			b.migrateLegacyKeys(ctx, db, entry)
			if err := db.RecycleEntry(ctx, entry.UUID); err != nil {
				log.Warn().Err(err).Str("entry", entry.UUID.String()).Msg("recycling legacy key entry")
			}
		}
	}

	b.renameLegacyGroup(ctx, db)
	return migrated, nil
}

// migrateEntrySettings moves legacy permission-record attributes into the
// entry's custom data. Reports whether the entry changed.
func (b *Broker) migrateEntrySettings(ctx context.Context, db store.Database, entry *models.CredentialEntry) bool {
	changed := false
	for _, name := range legacySettingsAttrs {
		value, ok := entry.Attributes[name]
		if !ok {
			continue
		}
		if value != "" {
			if entry.CustomData == nil {
				entry.CustomData = map[string]string{}
			}
			entry.CustomData[models.SettingsKey] = value
		}
		delete(entry.Attributes, name)
		changed = true
	}
	if !changed {
		return false
	}
	if err := db.UpdateEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("entry", entry.UUID.String()).Msg("migrating entry settings")
		return false
	}
	return true
}

// migrateLegacyKeys moves client keys stored as attributes of a legacy
// key-container entry into database custom data. Existing keys are never
// overwritten.
func (b *Broker) migrateLegacyKeys(ctx context.Context, db store.Database, entry *models.CredentialEntry) int {
	moved := 0
	for name, value := range entry.Attributes {
		label, ok := strings.CutPrefix(name, legacyKeyPrefix)
		if !ok {
			continue
		}
		exists, err := db.ContainsCustomData(ctx, ClientKeyPrefix+label)
		if err != nil || exists {
			continue
		}
		if err := db.SetCustomData(ctx, ClientKeyPrefix+label, value); err != nil {
			log.Warn().Err(err).Str("label", label).Msg("migrating legacy client key")
			continue
		}
		moved++
	}
	return moved
}

func (b *Broker) renameLegacyGroup(ctx context.Context, db store.Database) {
	g, err := db.FindGroupByPath(ctx, legacyGroupName)
	if err != nil {
		return
	}
	if err := db.RenameGroup(ctx, g.UUID, DefaultGroupName); err != nil {
		log.Warn().Err(err).Str("group", g.Name).Msg("renaming legacy password group")
	}
}
