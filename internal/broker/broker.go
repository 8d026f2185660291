// Package broker orchestrates credential lookups for browser clients:
// search, visibility filtering, access control, user confirmation and
// ranking.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/access"
	"github.com/org/credbroker/internal/audit"
	"github.com/org/credbroker/internal/match"
	"github.com/org/credbroker/internal/rank"
	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// Database custom data keys for stored client keys.
const (
	// ClientKeyPrefix precedes the client-chosen label of a stored key.
	ClientKeyPrefix = "BROWSER_KEY_"
	// KeyCreatedPrefix precedes the creation timestamp of a stored key.
	KeyCreatedPrefix = "BROWSER_KEY_CREATED_"
)

// DefaultGroupName is the group new browser entries are filed under.
const DefaultGroupName = "Browser Passwords"

// Broker is the credential request orchestrator.
type Broker struct {
	databases  *store.Manager
	prompt     UserPrompt
	auditor    *audit.Logger
	ranker     *rank.Ranker
	controller *access.Controller
	settings   models.Settings

	confirm *confirmGate
}

// New wires a Broker over the open databases. Confirmation dialogs in
// flight are cancelled whenever a database lock-state transition or
// active-database change is observed.
func New(databases *store.Manager, prompt UserPrompt, auditor *audit.Logger, settings models.Settings, locale string) *Broker {
	b := &Broker{
		databases:  databases,
		prompt:     prompt,
		auditor:    auditor,
		ranker:     rank.New(locale, settings.SortByTitle, settings.BestMatchOnly),
		controller: access.NewController(settings),
		settings:   settings,
		confirm:    newConfirmGate(),
	}
	databases.Subscribe(func(store.Database, bool) {
		b.confirm.cancelActive()
	})
	return b
}

// candidate pairs an entry with its owning database so permission writes
// land in the right store.
type candidate struct {
	entry *models.CredentialEntry
	db    store.Database
}

// FindLogins runs one full "find credentials for URL" request. All failure
// modes degrade to an empty result.
func (b *Broker) FindLogins(ctx context.Context, clientID string, req *models.MatchRequest) []models.LoginResult {
	host := hostOf(req.PageURL)
	submitHost := hostOf(req.SubmitURL)

	var toConfirm, allowed []candidate
	for _, cand := range b.searchEntries(ctx, req) {
		if cand.entry.CustomDataBool(models.OptionHideEntry) {
			continue
		}
		if !req.HTTPAuth && cand.entry.CustomDataBool(models.OptionOnlyHTTPAuth) {
			continue
		}

		// HTTP Basic Auth always needs a confirmation unless waived.
		if req.HTTPAuth && !b.settings.HTTPAuthPermission {
			toConfirm = append(toConfirm, cand)
			continue
		}

		switch b.controller.Check(cand.entry, host, submitHost, req.Realm) {
		case access.Denied:
			continue
		case access.Unknown:
			if b.settings.AlwaysAllowAccess {
				allowed = append(allowed, cand)
			} else {
				toConfirm = append(toConfirm, cand)
			}
		case access.Allowed:
			allowed = append(allowed, cand)
		}
	}

	prompted := len(toConfirm) > 0
	allowed = append(allowed, b.confirmEntries(ctx, toConfirm, req.PageURL, host, submitHost, req.Realm, req.HTTPAuth)...)

	decision := models.DecisionEmpty
	switch {
	case len(allowed) > 0 && prompted:
		decision = models.DecisionPrompted
	case len(allowed) > 0:
		decision = models.DecisionAllowed
	case prompted:
		decision = models.DecisionCancelled
	}
	b.auditor.LogDecision(ctx, &models.AuditEntry{
		ClientID:   clientID,
		Action:     "get-logins",
		Host:       host,
		SubmitHost: submitHost,
		Realm:      req.Realm,
		Decision:   decision,
		EntryCount: len(allowed),
	})

	if len(allowed) == 0 {
		return nil
	}

	// The popup may have outlived the database: never return stale results.
	if !b.databaseOpened() {
		return nil
	}

	entries := make([]*models.CredentialEntry, len(allowed))
	for i, cand := range allowed {
		entries[i] = cand.entry
	}
	entries = b.ranker.Rank(entries, host, req.SubmitURL)

	results := make([]models.LoginResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, b.prepareEntry(entry))
	}
	return results
}

// searchEntries collects candidate entries across the connected databases,
// retrying with progressively shorter hostname suffixes until a match is
// found or the two-label floor is reached.
func (b *Broker) searchEntries(ctx context.Context, req *models.MatchRequest) []candidate {
	databases := b.connectedDatabases(ctx, req.Keys)
	if len(databases) == 0 {
		return nil
	}

	page, err := url.Parse(req.PageURL)
	if err != nil {
		return nil
	}
	hostname := page.Hostname()

	for step := 0; step < match.MaxShortenSteps(); step++ {
		pageURL := swapHost(page, hostname)
		var found []candidate
		for _, db := range databases {
			found = append(found, b.searchDatabase(ctx, db, pageURL, req.SubmitURL)...)
		}
		if len(found) > 0 {
			return found
		}
		shortened, more := match.ShortenHost(hostname)
		if !more {
			return nil
		}
		hostname = shortened
	}
	return nil
}

// connectedDatabases returns the open databases whose stored client key
// matches one of the presented key pairs.
func (b *Broker) connectedDatabases(ctx context.Context, keys []models.KeyPair) []store.Database {
	var candidates []store.Database
	if b.settings.SearchInAllDatabases {
		candidates = b.databases.Open()
	} else if db := b.databases.Active(); db != nil {
		candidates = []store.Database{db}
	}

	var connected []store.Database
	for _, db := range candidates {
		if db.IsLocked() {
			continue
		}
		for _, pair := range keys {
			stored, err := db.GetCustomData(ctx, ClientKeyPrefix+pair.Label)
			if err != nil || stored == "" {
				continue
			}
			if stored == pair.Key {
				connected = append(connected, db)
				break
			}
		}
	}
	return connected
}

// searchDatabase returns the entries of one database matching the page,
// excluding recycled entries and groups excluded from searching. A match
// on any alternate-URL attribute counts as an entry match.
func (b *Broker) searchDatabase(ctx context.Context, db store.Database, pageURL, submitURL string) []candidate {
	groups, err := db.GroupsRecursive(ctx)
	if err != nil {
		log.Debug().Err(err).Str("database", db.Name()).Msg("group listing failed during search")
		return nil
	}
	excluded := map[uuid.UUID]bool{}
	for _, g := range groups {
		if g.Recycled || g.SearchingDisabled {
			excluded[g.UUID] = true
		}
	}

	entries, err := db.EntriesRecursive(ctx)
	if err != nil {
		return nil
	}

	var found []candidate
	for _, entry := range entries {
		if entry.Recycled || excluded[entry.GroupUUID] {
			continue
		}
		matched := match.Matches(entry.URL, pageURL, submitURL, b.settings.MatchURLScheme)
		if !matched {
			for _, alt := range entry.AdditionalURLs() {
				if match.Matches(alt, pageURL, submitURL, b.settings.MatchURLScheme) {
					matched = true
					break
				}
			}
		}
		if matched {
			found = append(found, candidate{entry: entry, db: db})
		}
	}
	return found
}

// prepareEntry shapes one entry into the presentable result record, with
// placeholders resolved. Optional fields are included only when enabled by
// policy or present on the entry.
func (b *Broker) prepareEntry(entry *models.CredentialEntry) models.LoginResult {
	res := models.LoginResult{
		Login:    entry.Resolve(entry.Username),
		Password: entry.Resolve(entry.Password),
		Name:     entry.Resolve(entry.Title),
		UUID:     strings.ReplaceAll(entry.UUID.String(), "-", ""),
		Group:    entry.GroupName,
	}
	if entry.HasTOTP() {
		if code, err := totp.GenerateCode(entry.TOTPSecret, time.Now()); err == nil {
			res.TOTP = code
		}
	}
	if entry.Expired {
		res.Expired = models.TrueStr
	}
	if v, ok := entry.CustomData[models.OptionSkipAutoSubmit]; ok {
		res.SkipAutoSubmit = v
	}
	if b.settings.SupportKphFields {
		for key, value := range entry.Attributes {
			if strings.HasPrefix(key, models.StringFieldPrefix) {
				res.StringFields = append(res.StringFields,
					models.StringField{key: entry.Resolve(value)})
			}
		}
	}
	return res
}

// DatabaseHash returns the SHA-256 identity hash of the active database.
// The legacy form also covers the recycle bin UUID.
func (b *Broker) DatabaseHash(ctx context.Context, legacy bool) string {
	db := b.databases.Active()
	if db == nil {
		return ""
	}
	root, err := db.RootGroupUUID(ctx)
	if err != nil {
		return ""
	}
	input := hexUUID(root)
	if legacy {
		if bin, err := db.RecycleBinUUID(ctx); err == nil {
			input += hexUUID(bin)
		}
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func (b *Broker) databaseOpened() bool {
	db := b.databases.Active()
	return db != nil && !db.IsLocked()
}

// Databases exposes the database manager to the protocol layer.
func (b *Broker) Databases() *store.Manager {
	return b.databases
}

// Settings returns the active policy flags.
func (b *Broker) Settings() models.Settings {
	return b.settings
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// swapHost rebuilds the page URL with a (possibly shortened) hostname,
// preserving any explicit port.
func swapHost(page *url.URL, hostname string) string {
	u := *page
	if port := page.Port(); port != "" {
		u.Host = hostname + ":" + port
	} else {
		u.Host = hostname
	}
	return u.String()
}

func hexUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
