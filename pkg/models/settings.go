package models

// Settings holds the global policy flags consulted during matching,
// access control and result shaping.
type Settings struct {
	// AlwaysAllowAccess resolves unknown access decisions as allowed
	// without prompting.
	AlwaysAllowAccess bool `yaml:"always_allow_access"`
	// AlwaysAllowUpdate skips confirmation when a client updates an entry.
	AlwaysAllowUpdate bool `yaml:"always_allow_update"`
	// HTTPAuthPermission waives the mandatory confirmation for HTTP
	// Basic/Digest authentication requests.
	HTTPAuthPermission bool `yaml:"http_auth_permission"`
	// SearchInAllDatabases widens lookups to every connected database
	// instead of only the active one.
	SearchInAllDatabases bool `yaml:"search_in_all_databases"`
	// MatchURLScheme requires the entry URL scheme to equal the page scheme.
	MatchURLScheme bool `yaml:"match_url_scheme"`
	// BestMatchOnly drops everything below the highest-ranked tier.
	BestMatchOnly bool `yaml:"best_match_only"`
	// SortByTitle breaks ranking ties by title instead of username.
	SortByTitle bool `yaml:"sort_by_title"`
	// SupportKphFields includes prefixed string-field attributes in results.
	SupportKphFields bool `yaml:"support_kph_fields"`
	// AllowExpiredCredentials permits expired entries to be returned.
	AllowExpiredCredentials bool `yaml:"allow_expired_credentials"`
	// NoMigrationPrompt suppresses the legacy-settings migration prompt.
	NoMigrationPrompt bool `yaml:"no_migration_prompt"`
}

// DefaultSettings returns the conservative defaults.
func DefaultSettings() Settings {
	return Settings{
		MatchURLScheme: true,
	}
}
