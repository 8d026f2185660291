package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/access"
	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// maxReferenceHops bounds password-reference chasing during updates.
const maxReferenceHops = 8

// AddLoginRequest carries the fields of a new entry from a client.
type AddLoginRequest struct {
	Login     string
	Password  string
	URL       string
	SubmitURL string
	Realm     string
	Group     string
	GroupUUID string
}

// AddLogin stores a new credential entry with an allow record for the
// requesting page, in the database the user selects when several are open.
func (b *Broker) AddLogin(ctx context.Context, req *AddLoginRequest) error {
	db := b.selectedDatabase(ctx)
	if db == nil {
		return store.ErrNotFound
	}
	return b.addLoginTo(ctx, db, req)
}

func (b *Broker) addLoginTo(ctx context.Context, db store.Database, req *AddLoginRequest) error {
	entry := &models.CredentialEntry{
		UUID:     uuid.New(),
		Title:    hostOf(req.URL),
		Username: req.Login,
		Password: req.Password,
		URL:      req.URL,
	}

	group, err := b.entryGroup(ctx, db, req)
	if err != nil {
		return err
	}
	entry.GroupUUID = group.UUID
	entry.GroupName = group.Name

	rec := &models.PermissionRecord{}
	host := hostOf(req.URL)
	rec.Allow(host)
	if submitHost := hostOf(req.SubmitURL); submitHost != "" {
		rec.Allow(submitHost)
	}
	if req.Realm != "" {
		rec.Realm = req.Realm
	}
	raw, err := recordJSON(rec)
	if err != nil {
		return err
	}
	entry.CustomData = map[string]string{models.SettingsKey: raw}

	if err := db.CreateEntry(ctx, entry); err != nil {
		return fmt.Errorf("storing new entry: %w", err)
	}
	log.Info().Str("host", host).Msg("stored new credential entry")
	return nil
}

// entryGroup resolves the target group of a new entry: the client-named
// group when it exists, otherwise the default browser group.
func (b *Broker) entryGroup(ctx context.Context, db store.Database, req *AddLoginRequest) (*models.Group, error) {
	if req.Group != "" && req.GroupUUID != "" {
		if id, err := uuid.Parse(req.GroupUUID); err == nil {
			if g, err := db.FindGroupByUUID(ctx, id); err == nil {
				return g, nil
			}
		}
	}
	return b.defaultEntryGroup(ctx, db)
}

// defaultEntryGroup finds the default browser-entry group, creating it
// under the root when missing. The group list is walked iteratively.
func (b *Broker) defaultEntryGroup(ctx context.Context, db store.Database) (*models.Group, error) {
	groups, err := db.GroupsRecursive(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Name == DefaultGroupName && !g.Recycled {
			return g, nil
		}
	}
	root, err := db.RootGroupUUID(ctx)
	if err != nil {
		return nil, err
	}
	return db.CreateGroup(ctx, root, DefaultGroupName)
}

// UpdateLogin updates the username/password of an existing entry. When the
// entry is missing a new one is stored instead. Returns true if anything
// was persisted.
func (b *Broker) UpdateLogin(ctx context.Context, entryUUID, login, password, pageURL, submitURL string) (bool, error) {
	db := b.databases.Active()
	if db == nil || db.IsLocked() {
		return false, nil
	}

	id, err := uuid.Parse(normalizeUUID(entryUUID))
	if err != nil {
		return false, nil
	}

	entry, err := db.FindEntryByUUID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		addErr := b.addLoginTo(ctx, db, &AddLoginRequest{
			Login: login, Password: password, URL: pageURL, SubmitURL: submitURL,
		})
		return addErr == nil, addErr
	}
	if err != nil {
		return false, err
	}

	// A referenced password means the credentials live in another entry:
	// update the original instead.
	for hops := 0; entry.IsReference(models.FieldPassword); hops++ {
		if hops >= maxReferenceHops {
			return false, nil
		}
		ref := entry.ReferenceUUID(models.FieldPassword)
		if ref == uuid.Nil {
			break
		}
		entry, err = db.FindEntryByUUID(ctx, ref)
		if err != nil {
			return false, nil
		}
	}

	// An entry without a username is unusable for updates.
	if entry.Username == "" {
		return false, nil
	}

	if entry.Username == login && entry.Password == password {
		return false, nil
	}

	if !b.settings.AlwaysAllowUpdate {
		ok, err := b.prompt.Confirm(ctx, "Update Entry",
			fmt.Sprintf("Do you want to update the information in %s - %s?",
				hostOf(pageURL), entry.Username))
		if err != nil || !ok {
			return false, err
		}
	}

	if !entry.IsReference(models.FieldUsername) {
		entry.Username = login
	}
	entry.Password = password
	if err := db.UpdateEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("updating entry: %w", err)
	}
	return true, nil
}

// GetTOTP returns the current one-time code of an entry, or "" when the
// entry is missing or carries no secret.
func (b *Broker) GetTOTP(ctx context.Context, entryUUID string) string {
	db := b.databases.Active()
	if db == nil || db.IsLocked() {
		return ""
	}
	id, err := uuid.Parse(normalizeUUID(entryUUID))
	if err != nil {
		return ""
	}
	entry, err := db.FindEntryByUUID(ctx, id)
	if err != nil || !entry.HasTOTP() {
		return ""
	}
	code, err := totp.GenerateCode(entry.TOTPSecret, time.Now())
	if err != nil {
		return ""
	}
	return code
}

// selectedDatabase picks the database a new entry is written to: the only
// unlocked one, or the user's choice when several are open.
func (b *Broker) selectedDatabase(ctx context.Context) store.Database {
	var open []store.Database
	for _, db := range b.databases.Open() {
		if !db.IsLocked() {
			open = append(open, db)
		}
	}
	switch len(open) {
	case 0:
		return nil
	case 1:
		return open[0]
	}

	names := make([]string, len(open))
	for i, db := range open {
		names[i] = db.Name()
	}
	index, ok, err := b.prompt.SelectDatabase(ctx, names)
	if err != nil || !ok || index < 0 || index >= len(open) {
		return nil
	}
	return open[index]
}

func recordJSON(rec *models.PermissionRecord) (string, error) {
	raw, err := access.MarshalRecord(rec)
	if err != nil {
		return "", fmt.Errorf("encoding permission record: %w", err)
	}
	return raw, nil
}

// normalizeUUID accepts both canonical and compact hex forms.
func normalizeUUID(raw string) string {
	if len(raw) != 32 {
		return raw
	}
	return raw[0:8] + "-" + raw[8:12] + "-" + raw[12:16] + "-" + raw[16:20] + "-" + raw[20:32]
}
