package models

import "time"

// AuditEntry records a single authorization decision.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"client_id"`
	Action     string    `json:"action"`
	Host       string    `json:"host"`
	SubmitHost string    `json:"submit_host,omitempty"`
	Realm      string    `json:"realm,omitempty"`
	Decision   string    `json:"decision"`
	// EntryCount is the number of credential records returned.
	EntryCount int `json:"entry_count"`
}

// Decision values recorded in audit entries.
const (
	DecisionAllowed   = "allowed"
	DecisionDenied    = "denied"
	DecisionPrompted  = "prompted"
	DecisionCancelled = "cancelled"
	DecisionEmpty     = "empty"
)
