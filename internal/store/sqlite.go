package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/org/credbroker/internal/crypto"
	"github.com/org/credbroker/pkg/models"
)

// SQLiteDatabase is a Database backed by an embedded SQLite file.
type SQLiteDatabase struct {
	name   string
	db     *sql.DB
	cipher *crypto.Cipher
	locked atomic.Bool
}

// OpenSQLite opens (or creates) a credential database file and ensures a
// root group exists. The database starts unlocked. When key is non-nil,
// the password and TOTP secret columns are sealed at rest with a cipher
// derived from it.
func OpenSQLite(ctx context.Context, name, path string, key []byte) (*SQLiteDatabase, error) {
	var ciph *crypto.Cipher
	if key != nil {
		var err error
		if ciph, err = crypto.NewCipher(key, "credbroker/"+name); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The broker serializes access per database; one connection avoids
	// SQLITE_BUSY on concurrent writes from diagnostics queries.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s := &SQLiteDatabase{name: name, db: db, cipher: ciph}
	if err := s.ensureRootGroup(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDatabase) ensureRootGroup(ctx context.Context) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM groups WHERE parent_uuid IS NULL`).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking root group: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups (uuid, name, parent_uuid, recycled, searching_disabled, recycle_bin)
		 VALUES (?, ?, NULL, 0, 0, 0)`,
		uuid.NewString(), s.name,
	)
	if err != nil {
		return fmt.Errorf("creating root group: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Name() string { return s.name }

func (s *SQLiteDatabase) IsLocked() bool { return s.locked.Load() }

// Lock marks the database locked. Reports true if the state changed.
func (s *SQLiteDatabase) Lock() bool { return s.locked.CompareAndSwap(false, true) }

// Unlock marks the database unlocked. Reports true if the state changed.
func (s *SQLiteDatabase) Unlock() bool { return s.locked.CompareAndSwap(true, false) }

func (s *SQLiteDatabase) checkLocked() error {
	if s.locked.Load() {
		return ErrLocked
	}
	return nil
}

func (s *SQLiteDatabase) Close() error { return s.db.Close() }

// --- Group tree ---

func (s *SQLiteDatabase) RootGroupUUID(ctx context.Context) (uuid.UUID, error) {
	if err := s.checkLocked(); err != nil {
		return uuid.Nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM groups WHERE parent_uuid IS NULL LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (s *SQLiteDatabase) RecycleBinUUID(ctx context.Context) (uuid.UUID, error) {
	if err := s.checkLocked(); err != nil {
		return uuid.Nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM groups WHERE recycle_bin = 1 LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

const groupColumns = `uuid, name, COALESCE(parent_uuid, ''), recycled, searching_disabled`

func scanGroup(row interface{ Scan(...any) error }) (*models.Group, error) {
	var g models.Group
	var rawUUID, rawParent string
	if err := row.Scan(&rawUUID, &g.Name, &rawParent, &g.Recycled, &g.SearchingDisabled); err != nil {
		return nil, err
	}
	var err error
	if g.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, fmt.Errorf("parsing group uuid: %w", err)
	}
	if rawParent != "" {
		if g.ParentUUID, err = uuid.Parse(rawParent); err != nil {
			return nil, fmt.Errorf("parsing parent uuid: %w", err)
		}
	}
	return &g, nil
}

func (s *SQLiteDatabase) GroupsRecursive(ctx context.Context) ([]*models.Group, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLiteDatabase) FindGroupByUUID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE uuid = ?`, id.String())
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

// FindGroupByPath resolves a slash-separated path below the root group,
// walking one level per component.
func (s *SQLiteDatabase) FindGroupByPath(ctx context.Context, path string) (*models.Group, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	parent, err := s.RootGroupUUID(ctx)
	if err != nil {
		return nil, err
	}

	var g *models.Group
	for _, component := range strings.Split(strings.Trim(path, "/"), "/") {
		if component == "" {
			continue
		}
		row := s.db.QueryRowContext(ctx,
			`SELECT `+groupColumns+` FROM groups WHERE parent_uuid = ? AND name = ?`,
			parent.String(), component)
		g, err = scanGroup(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		parent = g.UUID
	}
	if g == nil {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *SQLiteDatabase) CreateGroup(ctx context.Context, parent uuid.UUID, name string) (*models.Group, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	g := &models.Group{UUID: uuid.New(), Name: name, ParentUUID: parent}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (uuid, name, parent_uuid, recycled, searching_disabled, recycle_bin)
		 VALUES (?, ?, ?, 0, 0, 0)`,
		g.UUID.String(), name, parent.String())
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	return g, nil
}

func (s *SQLiteDatabase) RenameGroup(ctx context.Context, id uuid.UUID, name string) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET name = ? WHERE uuid = ?`, name, id.String())
	if err != nil {
		return fmt.Errorf("renaming group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Entries ---

const entryColumns = `e.uuid, e.title, e.username, e.password, e.url, e.notes,
	e.group_uuid, g.name, COALESCE(e.totp_secret, ''), e.expired,
	(e.recycled OR g.recycled)`

func (s *SQLiteDatabase) loadEntryMaps(ctx context.Context, e *models.CredentialEntry) error {
	e.Attributes = map[string]string{}
	e.CustomData = map[string]string{}
	for _, q := range []struct {
		query string
		dst   map[string]string
	}{
		{`SELECT key, value FROM entry_attributes WHERE entry_uuid = ?`, e.Attributes},
		{`SELECT key, value FROM entry_custom_data WHERE entry_uuid = ?`, e.CustomData},
	} {
		rows, err := s.db.QueryContext(ctx, q.query, e.UUID.String())
		if err != nil {
			return err
		}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				rows.Close()
				return err
			}
			q.dst[k] = v
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

func (s *SQLiteDatabase) EntriesRecursive(ctx context.Context) ([]*models.CredentialEntry, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries e JOIN groups g ON g.uuid = e.group_uuid`)
	if err != nil {
		return nil, err
	}

	var entries []*models.CredentialEntry
	var scanErr error
	for rows.Next() {
		e, err := s.scanEntryRow(rows)
		if err != nil {
			scanErr = err
			break
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil && scanErr == nil {
		scanErr = err
	}
	rows.Close()
	if scanErr != nil {
		return nil, scanErr
	}

	// Attribute and custom data maps are loaded after the main result set
	// is consumed; the single-connection pool forbids nested queries.
	for _, e := range entries {
		if err := s.loadEntryMaps(ctx, e); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// scanEntryRow scans only the entry columns, leaving attribute maps unloaded.
func (s *SQLiteDatabase) scanEntryRow(row interface{ Scan(...any) error }) (*models.CredentialEntry, error) {
	var e models.CredentialEntry
	var rawUUID, rawGroup string
	err := row.Scan(&rawUUID, &e.Title, &e.Username, &e.Password, &e.URL, &e.Notes,
		&rawGroup, &e.GroupName, &e.TOTPSecret, &e.Expired, &e.Recycled)
	if err != nil {
		return nil, err
	}
	if e.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, fmt.Errorf("parsing entry uuid: %w", err)
	}
	if e.GroupUUID, err = uuid.Parse(rawGroup); err != nil {
		return nil, fmt.Errorf("parsing entry group uuid: %w", err)
	}
	if s.cipher != nil {
		if e.Password, err = s.cipher.Open(e.Password); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.UUID, err)
		}
		if e.TOTPSecret, err = s.cipher.Open(e.TOTPSecret); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.UUID, err)
		}
	}
	return &e, nil
}

// sealSecrets returns the storage form of the entry's secret fields.
func (s *SQLiteDatabase) sealSecrets(entry *models.CredentialEntry) (password, totpSecret string, err error) {
	if s.cipher == nil {
		return entry.Password, entry.TOTPSecret, nil
	}
	if password, err = s.cipher.Seal(entry.Password); err != nil {
		return "", "", err
	}
	if totpSecret, err = s.cipher.Seal(entry.TOTPSecret); err != nil {
		return "", "", err
	}
	return password, totpSecret, nil
}

func (s *SQLiteDatabase) FindEntryByUUID(ctx context.Context, id uuid.UUID) (*models.CredentialEntry, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries e JOIN groups g ON g.uuid = e.group_uuid
		 WHERE e.uuid = ?`, id.String())
	e, err := s.scanEntryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadEntryMaps(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteDatabase) CreateEntry(ctx context.Context, entry *models.CredentialEntry) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	password, totpSecret, err := s.sealSecrets(entry)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (uuid, title, username, password, url, notes, group_uuid,
		                      totp_secret, expired, recycled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		entry.UUID.String(), entry.Title, entry.Username, password, entry.URL,
		entry.Notes, entry.GroupUUID.String(), totpSecret, entry.Expired, now, now)
	if err != nil {
		return fmt.Errorf("creating entry: %w", err)
	}
	if err := writeEntryMaps(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) UpdateEntry(ctx context.Context, entry *models.CredentialEntry) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	password, totpSecret, err := s.sealSecrets(entry)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET title = ?, username = ?, password = ?, url = ?, notes = ?,
		        group_uuid = ?, totp_secret = ?, expired = ?, updated_at = ?
		 WHERE uuid = ?`,
		entry.Title, entry.Username, password, entry.URL, entry.Notes,
		entry.GroupUUID.String(), totpSecret, entry.Expired,
		time.Now().UTC(), entry.UUID.String())
	if err != nil {
		return fmt.Errorf("updating entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	for _, table := range []string{"entry_attributes", "entry_custom_data"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE entry_uuid = ?`, entry.UUID.String()); err != nil {
			return err
		}
	}
	if err := writeEntryMaps(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func writeEntryMaps(ctx context.Context, tx *sql.Tx, entry *models.CredentialEntry) error {
	for table, data := range map[string]map[string]string{
		"entry_attributes":  entry.Attributes,
		"entry_custom_data": entry.CustomData,
	} {
		for k, v := range data {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO `+table+` (entry_uuid, key, value) VALUES (?, ?, ?)`,
				entry.UUID.String(), k, v); err != nil {
				return fmt.Errorf("writing %s: %w", table, err)
			}
		}
	}
	return nil
}

// RecycleEntry moves the entry to the recycle bin group, creating the bin
// on first use.
func (s *SQLiteDatabase) RecycleEntry(ctx context.Context, id uuid.UUID) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	bin, err := s.RecycleBinUUID(ctx)
	if errors.Is(err, ErrNotFound) {
		root, rerr := s.RootGroupUUID(ctx)
		if rerr != nil {
			return rerr
		}
		bin = uuid.New()
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO groups (uuid, name, parent_uuid, recycled, searching_disabled, recycle_bin)
			 VALUES (?, 'Recycle Bin', ?, 1, 1, 1)`,
			bin.String(), root.String()); err != nil {
			return fmt.Errorf("creating recycle bin: %w", err)
		}
	} else if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET group_uuid = ?, recycled = 1, updated_at = ? WHERE uuid = ?`,
		bin.String(), time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Database-level custom data ---

func (s *SQLiteDatabase) GetCustomData(ctx context.Context, key string) (string, error) {
	if err := s.checkLocked(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM database_custom_data WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *SQLiteDatabase) SetCustomData(ctx context.Context, key, value string) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO database_custom_data (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteDatabase) ContainsCustomData(ctx context.Context, key string) (bool, error) {
	_, err := s.GetCustomData(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteDatabase) RemoveCustomData(ctx context.Context, key string) error {
	if err := s.checkLocked(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM database_custom_data WHERE key = ?`, key)
	return err
}

// escapeLike neutralizes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteDatabase) ListCustomData(ctx context.Context, prefix string) (map[string]string, error) {
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM database_custom_data WHERE key LIKE ? || '%' ESCAPE '\'`,
		escapeLike(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- Audit ---

func (s *SQLiteDatabase) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, client_id, action, host, submit_host, realm, decision, entry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ClientID, entry.Action, entry.Host,
		entry.SubmitHost, entry.Realm, entry.Decision, entry.EntryCount)
	return err
}

func (s *SQLiteDatabase) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := `SELECT id, ts, client_id, action, host, submit_host, realm, decision, entry_count
	          FROM audit_log WHERE 1=1`
	var args []any
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if filter.Host != "" {
		query += ` AND host = ?`
		args = append(args, filter.Host)
	}
	query += ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ClientID, &e.Action, &e.Host,
			&e.SubmitHost, &e.Realm, &e.Decision, &e.EntryCount); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
