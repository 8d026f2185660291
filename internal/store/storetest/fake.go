// Package storetest provides an in-memory store.Database for tests.
package storetest

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// Fake is an in-memory store.Database. Fields are exported so tests can
// seed and inspect state directly.
type Fake struct {
	mu sync.Mutex

	DatabaseName string
	Root         uuid.UUID
	RecycleBin   uuid.UUID
	Groups       []*models.Group
	Entries      map[uuid.UUID]*models.CredentialEntry
	CustomData   map[string]string
	Audit        []*models.AuditEntry
	// Updates counts UpdateEntry calls.
	Updates int

	locked bool
}

// NewFake creates a Fake with a root group.
func NewFake(name string) *Fake {
	root := uuid.New()
	return &Fake{
		DatabaseName: name,
		Root:         root,
		Groups:       []*models.Group{{UUID: root, Name: "Root"}},
		Entries:      map[uuid.UUID]*models.CredentialEntry{},
		CustomData:   map[string]string{},
	}
}

// AddEntry seeds one entry, filling UUID, group and maps when unset.
func (f *Fake) AddEntry(e *models.CredentialEntry) *models.CredentialEntry {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.GroupUUID == uuid.Nil {
		e.GroupUUID = f.Root
	}
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	if e.CustomData == nil {
		e.CustomData = map[string]string{}
	}
	f.Entries[e.UUID] = e
	return e
}

func (f *Fake) Name() string { return f.DatabaseName }

func (f *Fake) IsLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

func (f *Fake) Lock() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return false
	}
	f.locked = true
	return true
}

func (f *Fake) Unlock() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.locked {
		return false
	}
	f.locked = false
	return true
}

func (f *Fake) RootGroupUUID(context.Context) (uuid.UUID, error) { return f.Root, nil }

func (f *Fake) RecycleBinUUID(context.Context) (uuid.UUID, error) {
	if f.RecycleBin == uuid.Nil {
		return uuid.Nil, store.ErrNotFound
	}
	return f.RecycleBin, nil
}

func (f *Fake) GroupsRecursive(context.Context) ([]*models.Group, error) {
	return append([]*models.Group(nil), f.Groups...), nil
}

func (f *Fake) FindGroupByUUID(_ context.Context, id uuid.UUID) (*models.Group, error) {
	for _, g := range f.Groups {
		if g.UUID == id {
			return g, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) FindGroupByPath(_ context.Context, path string) (*models.Group, error) {
	parent := f.Root
	var found *models.Group
	for _, component := range strings.Split(strings.Trim(path, "/"), "/") {
		found = nil
		for _, g := range f.Groups {
			if g.ParentUUID == parent && g.Name == component {
				found = g
				break
			}
		}
		if found == nil {
			return nil, store.ErrNotFound
		}
		parent = found.UUID
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (f *Fake) CreateGroup(_ context.Context, parent uuid.UUID, name string) (*models.Group, error) {
	g := &models.Group{UUID: uuid.New(), Name: name, ParentUUID: parent}
	f.Groups = append(f.Groups, g)
	return g, nil
}

func (f *Fake) RenameGroup(_ context.Context, id uuid.UUID, name string) error {
	for _, g := range f.Groups {
		if g.UUID == id {
			g.Name = name
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *Fake) EntriesRecursive(context.Context) ([]*models.CredentialEntry, error) {
	var out []*models.CredentialEntry
	for _, e := range f.Entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) FindEntryByUUID(_ context.Context, id uuid.UUID) (*models.CredentialEntry, error) {
	e, ok := f.Entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (f *Fake) CreateEntry(_ context.Context, e *models.CredentialEntry) error {
	if _, ok := f.Entries[e.UUID]; ok {
		return store.ErrAlreadyExists
	}
	f.Entries[e.UUID] = e
	return nil
}

func (f *Fake) UpdateEntry(_ context.Context, e *models.CredentialEntry) error {
	if _, ok := f.Entries[e.UUID]; !ok {
		return store.ErrNotFound
	}
	f.Entries[e.UUID] = e
	f.Updates++
	return nil
}

func (f *Fake) RecycleEntry(_ context.Context, id uuid.UUID) error {
	e, ok := f.Entries[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Recycled = true
	return nil
}

func (f *Fake) GetCustomData(_ context.Context, key string) (string, error) {
	v, ok := f.CustomData[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *Fake) SetCustomData(_ context.Context, key, value string) error {
	f.CustomData[key] = value
	return nil
}

func (f *Fake) ContainsCustomData(_ context.Context, key string) (bool, error) {
	_, ok := f.CustomData[key]
	return ok, nil
}

func (f *Fake) RemoveCustomData(_ context.Context, key string) error {
	delete(f.CustomData, key)
	return nil
}

func (f *Fake) ListCustomData(_ context.Context, prefix string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range f.CustomData {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (f *Fake) WriteAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	f.Audit = append(f.Audit, entry)
	return nil
}

func (f *Fake) QueryAuditLog(context.Context, store.AuditFilter) ([]*models.AuditEntry, error) {
	return append([]*models.AuditEntry(nil), f.Audit...), nil
}

func (f *Fake) Close() error { return nil }
