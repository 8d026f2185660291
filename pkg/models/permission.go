package models

// PermissionRecord is the per-entry allow/deny decision record persisted
// in the entry's custom data.
type PermissionRecord struct {
	Allowed []string `json:"Allow"`
	Denied  []string `json:"Deny"`
	Realm   string   `json:"Realm,omitempty"`
}

// IsAllowed returns true if host is in the allowed set.
func (r *PermissionRecord) IsAllowed(host string) bool {
	return contains(r.Allowed, host)
}

// IsDenied returns true if host is in the denied set.
func (r *PermissionRecord) IsDenied(host string) bool {
	return contains(r.Denied, host)
}

// Allow adds host to the allowed set and removes it from the denied set.
// Adding an already-allowed host is a no-op.
func (r *PermissionRecord) Allow(host string) {
	r.Denied = remove(r.Denied, host)
	if !contains(r.Allowed, host) {
		r.Allowed = append(r.Allowed, host)
	}
}

// Deny adds host to the denied set and removes it from the allowed set.
// Adding an already-denied host is a no-op.
func (r *PermissionRecord) Deny(host string) {
	r.Allowed = remove(r.Allowed, host)
	if !contains(r.Denied, host) {
		r.Denied = append(r.Denied, host)
	}
}

func contains(hosts []string, host string) bool {
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}

func remove(hosts []string, host string) []string {
	out := hosts[:0]
	for _, h := range hosts {
		if h != host {
			out = append(out, h)
		}
	}
	return out
}
