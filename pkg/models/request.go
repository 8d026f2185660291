package models

// MatchRequest is one "find credentials for URL" request.
type MatchRequest struct {
	PageURL   string
	SubmitURL string
	Realm     string
	HTTPAuth  bool
	// Keys presented by the requesting client, checked against each
	// database's stored client keys.
	Keys []KeyPair
}

// KeyPair is a client-presented (label, public key) pair.
type KeyPair struct {
	Label string `json:"id"`
	Key   string `json:"key"`
}

// StringField is a single-key attribute object in a login result.
type StringField map[string]string

// LoginResult is one presentable credential record returned to a client.
type LoginResult struct {
	Login          string        `json:"login"`
	Password       string        `json:"password"`
	Name           string        `json:"name"`
	UUID           string        `json:"uuid"`
	Group          string        `json:"group"`
	TOTP           string        `json:"totp,omitempty"`
	Expired        string        `json:"expired,omitempty"`
	SkipAutoSubmit string        `json:"skipAutoSubmit,omitempty"`
	StringFields   []StringField `json:"stringFields,omitempty"`
}
