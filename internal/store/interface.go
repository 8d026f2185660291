package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/org/credbroker/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a record that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrLocked is returned for any operation against a locked database.
var ErrLocked = errors.New("database is locked")

// Database is the persistence interface for one credential database.
type Database interface {
	// Name returns the display name of the database.
	Name() string

	// Lock state. Lock and Unlock report whether the state changed.
	IsLocked() bool
	Lock() bool
	Unlock() bool

	// Group tree
	RootGroupUUID(ctx context.Context) (uuid.UUID, error)
	RecycleBinUUID(ctx context.Context) (uuid.UUID, error)
	GroupsRecursive(ctx context.Context) ([]*models.Group, error)
	FindGroupByUUID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	FindGroupByPath(ctx context.Context, path string) (*models.Group, error)
	CreateGroup(ctx context.Context, parent uuid.UUID, name string) (*models.Group, error)
	RenameGroup(ctx context.Context, id uuid.UUID, name string) error

	// Entries
	EntriesRecursive(ctx context.Context) ([]*models.CredentialEntry, error)
	FindEntryByUUID(ctx context.Context, id uuid.UUID) (*models.CredentialEntry, error)
	CreateEntry(ctx context.Context, entry *models.CredentialEntry) error
	// UpdateEntry persists all fields, attributes and custom data of the
	// entry in one transaction.
	UpdateEntry(ctx context.Context, entry *models.CredentialEntry) error
	RecycleEntry(ctx context.Context, id uuid.UUID) error

	// Database-level custom data
	GetCustomData(ctx context.Context, key string) (string, error)
	SetCustomData(ctx context.Context, key, value string) error
	ContainsCustomData(ctx context.Context, key string) (bool, error)
	RemoveCustomData(ctx context.Context, key string) error
	ListCustomData(ctx context.Context, prefix string) (map[string]string, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Lifecycle
	Close() error
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	ClientID string
	Host     string
	Limit    int
	Offset   int
}
