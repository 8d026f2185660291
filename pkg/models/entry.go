package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Custom data keys understood on individual entries.
const (
	// SettingsKey holds the serialized per-entry permission record.
	SettingsKey = "CredBroker Settings"

	OptionSkipAutoSubmit = "SkipAutoSubmit"
	OptionHideEntry      = "HideEntry"
	OptionOnlyHTTPAuth   = "OnlyHTTPAuth"
)

// Attribute conventions carried over from the browser extension protocol.
const (
	// AdditionalURLPrefix marks entry attributes that hold alternate URLs.
	AdditionalURLPrefix = "KP2A_URL"
	// StringFieldPrefix marks entry attributes exposed to clients as string fields.
	StringFieldPrefix = "KPH: "
)

// TrueStr is the literal truth marker used in custom data and result fields.
const TrueStr = "true"

// CredentialEntry is one stored credential record.
type CredentialEntry struct {
	UUID       uuid.UUID
	Title      string
	Username   string
	Password   string
	URL        string
	Notes      string
	GroupUUID  uuid.UUID
	GroupName  string
	TOTPSecret string
	Expired    bool
	Recycled   bool
	Attributes map[string]string
	CustomData map[string]string
}

// HasTOTP returns true if the entry carries a one-time-password secret.
func (e *CredentialEntry) HasTOTP() bool {
	return e.TOTPSecret != ""
}

// AdditionalURLs returns the values of all alternate-URL attributes.
func (e *CredentialEntry) AdditionalURLs() []string {
	var urls []string
	for key, value := range e.Attributes {
		if strings.HasPrefix(key, AdditionalURLPrefix) {
			urls = append(urls, value)
		}
	}
	return urls
}

// CustomDataBool returns true if the given custom data key holds the truth marker.
func (e *CredentialEntry) CustomDataBool(key string) bool {
	return e.CustomData[key] == TrueStr
}

// Group is one node of the credential group tree.
type Group struct {
	UUID       uuid.UUID
	Name       string
	ParentUUID uuid.UUID
	Recycled   bool
	// SearchingDisabled excludes the group and its entries from lookups.
	SearchingDisabled bool
}

// GroupNode pairs a group with its children for tree-shaped responses.
type GroupNode struct {
	Name     string       `json:"name"`
	UUID     string       `json:"uuid"`
	Children []*GroupNode `json:"children"`
}

// ClientKey is one authorized pairing between a browser client and a database.
type ClientKey struct {
	Label     string
	PublicKey string
	CreatedAt time.Time
}
