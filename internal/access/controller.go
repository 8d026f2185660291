package access

import "github.com/org/credbroker/pkg/models"

// Decision is the outcome of classifying one entry against a request.
type Decision int

const (
	Unknown Decision = iota
	Allowed
	Denied
)

// String returns the audit-log form of the decision.
func (d Decision) String() string {
	switch d {
	case Allowed:
		return models.DecisionAllowed
	case Denied:
		return models.DecisionDenied
	default:
		return "unknown"
	}
}

// Controller classifies entries using their permission records and the
// global policy flags.
type Controller struct {
	settings models.Settings
}

// NewController creates a Controller with the given policy flags.
func NewController(settings models.Settings) *Controller {
	return &Controller{settings: settings}
}

// Check classifies one entry for a request to host (and submitHost, when
// the form posts elsewhere). The expiry check runs before any host-based
// logic. Check never mutates the entry; resolution of Unknown is the
// caller's concern.
func (c *Controller) Check(entry *models.CredentialEntry, host, submitHost, realm string) Decision {
	if entry.Expired {
		if c.settings.AllowExpiredCredentials {
			return Allowed
		}
		return Denied
	}

	rec, ok := Load(entry)
	if !ok {
		return Unknown
	}

	if rec.IsAllowed(host) && (submitHost == "" || rec.IsAllowed(submitHost)) {
		return Allowed
	}
	if rec.IsDenied(host) || (submitHost != "" && rec.IsDenied(submitHost)) {
		return Denied
	}
	if realm != "" && rec.Realm != realm {
		return Denied
	}
	return Unknown
}
