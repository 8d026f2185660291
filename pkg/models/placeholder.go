package models

import (
	"strings"

	"github.com/google/uuid"
)

// maxPlaceholderDepth bounds recursive placeholder expansion.
const maxPlaceholderDepth = 10

// referencePrefix starts a field reference of the form {REF:P@I:<uuid>}.
const referencePrefix = "{REF:"

// Field names usable in references and placeholders.
const (
	FieldTitle    = "Title"
	FieldUsername = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"
)

// FieldValue returns the raw value of a named standard field, or the
// attribute of that name for non-standard fields.
func (e *CredentialEntry) FieldValue(field string) string {
	switch field {
	case FieldTitle:
		return e.Title
	case FieldUsername:
		return e.Username
	case FieldPassword:
		return e.Password
	case FieldURL:
		return e.URL
	case FieldNotes:
		return e.Notes
	default:
		return e.Attributes[field]
	}
}

// IsReference returns true if the named field holds a reference to
// another entry rather than a literal value.
func (e *CredentialEntry) IsReference(field string) bool {
	return strings.HasPrefix(e.FieldValue(field), referencePrefix)
}

// ReferenceUUID extracts the referenced entry UUID from a field of the
// form {REF:X@I:<uuid>}. Returns uuid.Nil if the field is not a
// well-formed reference.
func (e *CredentialEntry) ReferenceUUID(field string) uuid.UUID {
	value := e.FieldValue(field)
	if !strings.HasPrefix(value, referencePrefix) || !strings.HasSuffix(value, "}") {
		return uuid.Nil
	}
	body := value[len(referencePrefix) : len(value)-1]
	idx := strings.Index(body, "@I:")
	if idx < 0 {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(body[idx+3:]))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Resolve expands placeholders like {USERNAME}, {URL} and {S:Attribute}
// in s against the entry's own fields. Expansion is repeated so nested
// placeholders resolve, up to a fixed depth.
func (e *CredentialEntry) Resolve(s string) string {
	for depth := 0; depth < maxPlaceholderDepth; depth++ {
		expanded := e.resolveOnce(s)
		if expanded == s {
			return s
		}
		s = expanded
	}
	return s
}

func (e *CredentialEntry) resolveOnce(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, "{")
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing := strings.Index(s[open:], "}")
		if closing < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing += open
		b.WriteString(s[:open])
		b.WriteString(e.expandToken(s[open+1 : closing]))
		s = s[closing+1:]
	}
}

func (e *CredentialEntry) expandToken(token string) string {
	switch strings.ToUpper(token) {
	case "TITLE":
		return e.Title
	case "USERNAME":
		return e.Username
	case "PASSWORD":
		return e.Password
	case "URL":
		return e.URL
	case "NOTES":
		return e.Notes
	}
	if rest, ok := strings.CutPrefix(token, "S:"); ok {
		if value, found := e.Attributes[rest]; found {
			return value
		}
	}
	// Unknown placeholders are kept verbatim.
	return "{" + token + "}"
}
