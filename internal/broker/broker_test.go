package broker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/org/credbroker/internal/access"
	"github.com/org/credbroker/internal/audit"
	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/internal/store/storetest"
	"github.com/org/credbroker/pkg/models"
)

const (
	testKeyLabel = "browser-test"
	testKey      = "pubkey-abc"
)

func newTestBroker(t *testing.T, settings models.Settings, prompt *fakePrompt, dbs ...*storetest.Fake) (*Broker, *store.Manager) {
	t.Helper()
	manager := store.NewManager()
	for _, db := range dbs {
		db.CustomData[ClientKeyPrefix+testKeyLabel] = testKey
		manager.Add(db)
	}
	b := New(manager, prompt, audit.NewLogger(manager), settings, "en")
	return b, manager
}

func matchRequest(pageURL string) *models.MatchRequest {
	return &models.MatchRequest{
		PageURL: pageURL,
		Keys:    []models.KeyPair{{Label: testKeyLabel, Key: testKey}},
	}
}

func allowRecord(t *testing.T, hosts ...string) string {
	t.Helper()
	rec := &models.PermissionRecord{}
	for _, h := range hosts {
		rec.Allow(h)
	}
	raw, err := access.MarshalRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func denyRecord(t *testing.T, hosts ...string) string {
	t.Helper()
	rec := &models.PermissionRecord{}
	for _, h := range hosts {
		rec.Deny(h)
	}
	raw, err := access.MarshalRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestFindLoginsRequiresClientKey(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	req := matchRequest("https://example.com/login")
	req.Keys = []models.KeyPair{{Label: testKeyLabel, Key: "wrong-key"}}
	if got := b.FindLogins(context.Background(), "client-1", req); got != nil {
		t.Fatalf("expected no results with a mismatched key, got %d", len(got))
	}
}

func TestFindLoginsAllowedWithoutPrompt(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", Password: "s3cret",
		URL:        "https://example.com",
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	prompt := &fakePrompt{}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/login"))
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Login != "alice" || got[0].Password != "s3cret" {
		t.Fatalf("unexpected result %+v", got[0])
	}
	if prompt.selectCalls != 0 {
		t.Fatalf("allowed entry must not trigger a confirmation, got %d calls", prompt.selectCalls)
	}
	if len(db.Audit) != 1 || db.Audit[0].Decision != models.DecisionAllowed {
		t.Fatalf("expected one allowed audit record, got %+v", db.Audit)
	}
}

func TestFindLoginsDeniedSkipsPrompt(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		CustomData: map[string]string{models.SettingsKey: denyRecord(t, "example.com")},
	})
	prompt := &fakePrompt{}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("denied entry must not be returned, got %d", len(got))
	}
	if prompt.selectCalls != 0 {
		t.Fatal("denied entry must not trigger a confirmation")
	}
}

func TestFindLoginsPromptAndRemember(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
	})
	prompt := &fakePrompt{selection: SelectionResult{Selected: []int{0}, Remember: true}}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/login"))
	if len(got) != 1 {
		t.Fatalf("expected 1 result after confirmation, got %d", len(got))
	}
	if prompt.selectCalls != 1 {
		t.Fatalf("expected one confirmation, got %d", prompt.selectCalls)
	}

	rec, ok := access.Load(entry)
	if !ok {
		t.Fatal("expected a persisted permission record after remember")
	}
	if !rec.IsAllowed("example.com") {
		t.Fatalf("example.com not in allowed set: %+v", rec)
	}
	if len(db.Audit) != 1 || db.Audit[0].Decision != models.DecisionPrompted {
		t.Fatalf("expected a prompted audit record, got %+v", db.Audit)
	}
}

func TestFindLoginsSelectionWithoutRemember(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
	})
	prompt := &fakePrompt{selection: SelectionResult{Selected: []int{0}}}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/"))
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if _, ok := access.Load(entry); ok {
		t.Fatal("no permission record may be persisted without remember")
	}
}

func TestFindLoginsDenyAndRemember(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
	})
	// The user denies row 0 and selects nothing.
	prompt := &fakePrompt{denyIndexes: []int{0}}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("expected no results, got %d", len(got))
	}
	rec, ok := access.Load(entry)
	if !ok || !rec.IsDenied("example.com") {
		t.Fatalf("expected a persisted deny record, got %+v (present %v)", rec, ok)
	}
	if len(db.Audit) != 1 || db.Audit[0].Decision != models.DecisionCancelled {
		t.Fatalf("expected a cancelled audit record, got %+v", db.Audit)
	}
}

func TestFindLoginsAlwaysAllowAccess(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
	})
	prompt := &fakePrompt{}
	settings := models.DefaultSettings()
	settings.AlwaysAllowAccess = true
	b, _ := newTestBroker(t, settings, prompt, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/"))
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if prompt.selectCalls != 0 {
		t.Fatal("always-allow must not prompt")
	}
}

func TestFindLoginsExpiredEntry(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com", Expired: true,
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("expired entries must be withheld by default, got %d", len(got))
	}

	settings := models.DefaultSettings()
	settings.AllowExpiredCredentials = true
	b, _ = newTestBroker(t, settings, &fakePrompt{}, db)
	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/"))
	if len(got) != 1 || got[0].Expired != models.TrueStr {
		t.Fatalf("expected one expired-flagged result, got %+v", got)
	}
}

func TestFindLoginsHiddenEntry(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		CustomData: map[string]string{
			models.SettingsKey:     allowRecord(t, "example.com"),
			models.OptionHideEntry: models.TrueStr,
		},
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("hidden entry must be withheld, got %d", len(got))
	}
}

func TestFindLoginsHTTPAuthNeedsConfirmation(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	prompt := &fakePrompt{selection: SelectionResult{Selected: []int{0}}}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	req := matchRequest("https://example.com/")
	req.HTTPAuth = true
	got := b.FindLogins(context.Background(), "client-1", req)
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if prompt.selectCalls != 1 {
		t.Fatal("HTTP auth must be confirmed even for allowed entries")
	}
	if !prompt.lastSelection.HTTPAuth {
		t.Fatal("selection request must carry the HTTP auth flag")
	}
}

func TestFindLoginsOnlyHTTPAuthEntry(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		CustomData: map[string]string{
			models.SettingsKey:        allowRecord(t, "example.com"),
			models.OptionOnlyHTTPAuth: models.TrueStr,
		},
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("only-HTTP-auth entry must be withheld from form requests, got %d", len(got))
	}
}

func TestFindLoginsStaleAfterLock(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
	})
	prompt := &fakePrompt{selection: SelectionResult{Selected: []int{0}}}
	b, manager := newTestBroker(t, models.DefaultSettings(), prompt, db)

	manager.LockDatabase(db)
	if got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/")); got != nil {
		t.Fatalf("locked database must yield no results, got %d", len(got))
	}
}

func TestFindLoginsAdditionalURL(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://unrelated.net",
		Attributes: map[string]string{models.AdditionalURLPrefix + "_1": "https://example.com"},
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/login"))
	if len(got) != 1 {
		t.Fatalf("expected a match via the alternate URL, got %d", len(got))
	}
}

func TestFindLoginsStringFields(t *testing.T) {
	db := storetest.NewFake("personal")
	db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", URL: "https://example.com",
		Attributes: map[string]string{
			models.StringFieldPrefix + "PIN": "1234",
			"Unrelated":                      "nope",
		},
		CustomData: map[string]string{models.SettingsKey: allowRecord(t, "example.com")},
	})
	settings := models.DefaultSettings()
	settings.SupportKphFields = true
	b, _ := newTestBroker(t, settings, &fakePrompt{}, db)

	got := b.FindLogins(context.Background(), "client-1", matchRequest("https://example.com/"))
	if len(got) != 1 || len(got[0].StringFields) != 1 {
		t.Fatalf("expected one string field, got %+v", got)
	}
	if got[0].StringFields[0][models.StringFieldPrefix+"PIN"] != "1234" {
		t.Fatalf("unexpected string field contents %+v", got[0].StringFields)
	}
}

func TestConfirmGateSingleFlight(t *testing.T) {
	g := newConfirmGate()
	cancel, ok := g.enter()
	if !ok || cancel == nil {
		t.Fatal("first enter must succeed")
	}
	if _, ok := g.enter(); ok {
		t.Fatal("second concurrent enter must be rejected")
	}
	g.cancelActive()
	select {
	case <-cancel:
	default:
		t.Fatal("cancelActive must close the active channel")
	}
	g.leave()
	if _, ok := g.enter(); !ok {
		t.Fatal("enter must succeed again after leave")
	}
}

func TestUpdateLoginStoresMissingEntry(t *testing.T) {
	db := storetest.NewFake("personal")
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{confirmAnswer: true}, db)

	changed, err := b.UpdateLogin(context.Background(), uuid.NewString(),
		"alice", "s3cret", "https://example.com/login", "")
	if err != nil || !changed {
		t.Fatalf("expected a stored entry, changed=%v err=%v", changed, err)
	}

	entries, _ := db.EntriesRecursive(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Username != "alice" || entries[0].Title != "example.com" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	rec, ok := access.Load(entries[0])
	if !ok || !rec.IsAllowed("example.com") {
		t.Fatal("new entry must carry an allow record for its page host")
	}
}

func TestUpdateLoginRefusesEmptyUsername(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "", Password: "old", URL: "https://example.com",
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{confirmAnswer: true}, db)

	changed, err := b.UpdateLogin(context.Background(), entry.UUID.String(),
		"alice", "new", "https://example.com/", "")
	if err != nil || changed {
		t.Fatalf("entry without username must not be updated, changed=%v err=%v", changed, err)
	}
	if entry.Password != "old" {
		t.Fatal("password must be unchanged")
	}
}

func TestUpdateLoginUnchangedCredentials(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", Password: "same", URL: "https://example.com",
	})
	prompt := &fakePrompt{confirmAnswer: true}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	changed, err := b.UpdateLogin(context.Background(), entry.UUID.String(),
		"alice", "same", "https://example.com/", "")
	if err != nil || changed {
		t.Fatalf("identical credentials must not persist, changed=%v err=%v", changed, err)
	}
	if prompt.confirmCalls != 0 {
		t.Fatal("identical credentials must not prompt")
	}
}

func TestUpdateLoginDeclined(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", Password: "old", URL: "https://example.com",
	})
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{confirmAnswer: false}, db)

	changed, err := b.UpdateLogin(context.Background(), entry.UUID.String(),
		"alice", "new", "https://example.com/", "")
	if err != nil || changed {
		t.Fatalf("declined update must not persist, changed=%v err=%v", changed, err)
	}
	if entry.Password != "old" {
		t.Fatal("password must be unchanged after decline")
	}
}

func TestUpdateLoginCompactUUID(t *testing.T) {
	db := storetest.NewFake("personal")
	entry := db.AddEntry(&models.CredentialEntry{
		Title: "Example", Username: "alice", Password: "old", URL: "https://example.com",
	})
	settings := models.DefaultSettings()
	settings.AlwaysAllowUpdate = true
	b, _ := newTestBroker(t, settings, &fakePrompt{}, db)

	compact := hexUUID(entry.UUID)
	changed, err := b.UpdateLogin(context.Background(), compact,
		"alice", "new", "https://example.com/", "")
	if err != nil || !changed {
		t.Fatalf("compact UUID must resolve, changed=%v err=%v", changed, err)
	}
	if entry.Password != "new" {
		t.Fatal("password must be updated")
	}
}

func TestUpdateLoginFollowsPasswordReference(t *testing.T) {
	db := storetest.NewFake("personal")
	original := db.AddEntry(&models.CredentialEntry{
		Title: "Original", Username: "alice", Password: "old", URL: "https://example.com",
	})
	clone := db.AddEntry(&models.CredentialEntry{
		Title: "Clone", Username: "alice", URL: "https://example.com",
		Password: "{REF:P@I:" + original.UUID.String() + "}",
	})
	settings := models.DefaultSettings()
	settings.AlwaysAllowUpdate = true
	b, _ := newTestBroker(t, settings, &fakePrompt{}, db)

	changed, err := b.UpdateLogin(context.Background(), clone.UUID.String(),
		"alice", "new", "https://example.com/", "")
	if err != nil || !changed {
		t.Fatalf("reference update failed, changed=%v err=%v", changed, err)
	}
	if original.Password != "new" {
		t.Fatal("referenced original must receive the new password")
	}
	if clone.Password != "{REF:P@I:"+original.UUID.String()+"}" {
		t.Fatal("clone must keep its reference")
	}
}

func TestStoreClientKey(t *testing.T) {
	db := storetest.NewFake("personal")
	prompt := &fakePrompt{inputText: "chrome-laptop", inputOK: true}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	label, err := b.StoreClientKey(context.Background(), "new-public-key")
	if err != nil || label != "chrome-laptop" {
		t.Fatalf("label=%q err=%v", label, err)
	}
	if db.CustomData[ClientKeyPrefix+"chrome-laptop"] != "new-public-key" {
		t.Fatal("key not stored under its label")
	}
	if db.CustomData[KeyCreatedPrefix+"chrome-laptop"] == "" {
		t.Fatal("creation timestamp not stored")
	}
}

func TestStoreClientKeyDeclined(t *testing.T) {
	db := storetest.NewFake("personal")
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{inputOK: false}, db)

	label, err := b.StoreClientKey(context.Background(), "new-public-key")
	if err != nil || label != "" {
		t.Fatalf("declined association must return empty label, got %q err=%v", label, err)
	}
}

func TestStoreClientKeyOverwrite(t *testing.T) {
	db := storetest.NewFake("personal")
	db.CustomData[ClientKeyPrefix+"chrome-laptop"] = "old-key"
	prompt := &fakePrompt{inputText: "chrome-laptop", inputOK: true, confirmAnswer: true}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	label, err := b.StoreClientKey(context.Background(), "new-key")
	if err != nil || label != "chrome-laptop" {
		t.Fatalf("label=%q err=%v", label, err)
	}
	if db.CustomData[ClientKeyPrefix+"chrome-laptop"] != "new-key" {
		t.Fatal("confirmed overwrite must replace the stored key")
	}
}

func TestStoreClientKeyOverwriteDeclined(t *testing.T) {
	db := storetest.NewFake("personal")
	db.CustomData[ClientKeyPrefix+"chrome-laptop"] = "old-key"
	prompt := &fakePrompt{inputText: "chrome-laptop", inputOK: true, confirmAnswer: false}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	label, err := b.StoreClientKey(context.Background(), "new-key")
	if err != nil || label != "" {
		t.Fatalf("refused overwrite must not store, got %q err=%v", label, err)
	}
	if db.CustomData[ClientKeyPrefix+"chrome-laptop"] != "old-key" {
		t.Fatal("stored key must be unchanged")
	}
}

func TestListClientKeys(t *testing.T) {
	db := storetest.NewFake("personal")
	db.CustomData[ClientKeyPrefix+"firefox"] = "key-b"
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	keys, err := b.ListClientKeys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// newTestBroker seeds one key of its own.
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].Label > keys[1].Label {
		t.Fatal("keys must be ordered by label")
	}
}

func TestListClientKeysSkipsTimestampRows(t *testing.T) {
	db := storetest.NewFake("personal")
	prompt := &fakePrompt{inputText: "chrome-laptop", inputOK: true}
	b, _ := newTestBroker(t, models.DefaultSettings(), prompt, db)

	label, err := b.StoreClientKey(context.Background(), "chrome-public-key")
	if err != nil || label != "chrome-laptop" {
		t.Fatalf("label=%q err=%v", label, err)
	}

	keys, err := b.ListClientKeys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// The stored key plus the one newTestBroker seeds; the creation
	// timestamp row must not surface as a third association.
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %+v", len(keys), keys)
	}
	for _, k := range keys {
		if strings.HasPrefix(k.Label, "CREATED_") {
			t.Fatalf("timestamp row listed as association: %+v", k)
		}
	}
	if keys[1].Label != "chrome-laptop" || keys[1].PublicKey != "chrome-public-key" {
		t.Fatalf("unexpected stored key: %+v", keys[1])
	}
	if keys[1].CreatedAt.IsZero() {
		t.Fatal("stored key should carry its creation timestamp")
	}
}

func TestRemoveClientKey(t *testing.T) {
	db := storetest.NewFake("personal")
	db.CustomData[ClientKeyPrefix+"firefox"] = "key-b"
	db.CustomData[KeyCreatedPrefix+"firefox"] = "2026-08-30T00:00:00Z"
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	if err := b.RemoveClientKey(context.Background(), "firefox"); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.CustomData[ClientKeyPrefix+"firefox"]; ok {
		t.Fatal("key not removed")
	}
	if _, ok := db.CustomData[KeyCreatedPrefix+"firefox"]; ok {
		t.Fatal("timestamp not removed")
	}

	if err := b.RemoveClientKey(context.Background(), "firefox"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown label, got %v", err)
	}
}

func TestCreateGroupWalksPath(t *testing.T) {
	db := storetest.NewFake("personal")
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{confirmAnswer: true}, db)

	node, err := b.CreateGroup(context.Background(), "Browser/Work")
	if err != nil || node == nil {
		t.Fatalf("node=%v err=%v", node, err)
	}
	if node.Name != "Work" {
		t.Fatalf("expected final component name, got %q", node.Name)
	}
	if _, err := db.FindGroupByPath(context.Background(), "Browser/Work"); err != nil {
		t.Fatal("path must exist after creation")
	}

	// Second call resolves without a second confirmation.
	again, err := b.CreateGroup(context.Background(), "Browser/Work")
	if err != nil || again == nil || again.UUID != node.UUID {
		t.Fatalf("existing path must resolve to the same group, got %v err=%v", again, err)
	}
}

func TestDatabaseGroupsExcludesRecycleBin(t *testing.T) {
	db := storetest.NewFake("personal")
	child, _ := db.CreateGroup(context.Background(), db.Root, "Browser")
	bin, _ := db.CreateGroup(context.Background(), db.Root, "Recycle Bin")
	db.RecycleBin = bin.UUID
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	tree, err := b.DatabaseGroups(context.Background())
	if err != nil || tree == nil {
		t.Fatalf("tree=%v err=%v", tree, err)
	}
	if len(tree.Children) != 1 || tree.Children[0].Name != child.Name {
		t.Fatalf("expected only the browser child, got %+v", tree.Children)
	}
}

func TestDatabaseHash(t *testing.T) {
	db := storetest.NewFake("personal")
	b, _ := newTestBroker(t, models.DefaultSettings(), &fakePrompt{}, db)

	plain := b.DatabaseHash(context.Background(), false)
	if len(plain) != 64 {
		t.Fatalf("expected a hex SHA-256, got %q", plain)
	}
	if again := b.DatabaseHash(context.Background(), false); again != plain {
		t.Fatal("hash must be stable")
	}

	bin, _ := db.CreateGroup(context.Background(), db.Root, "Recycle Bin")
	db.RecycleBin = bin.UUID
	if legacy := b.DatabaseHash(context.Background(), true); legacy == plain {
		t.Fatal("legacy hash must differ once a recycle bin exists")
	}
}
