package protocol

// Protocol error codes returned to clients in the errorCode field.
const (
	codeDatabaseNotOpened  = 1
	codeHashMismatch       = 2
	codeClientKeyMissing   = 3
	codeCannotDecrypt      = 4
	codeActionCancelled    = 6
	codeEncryptionFailed   = 7
	codeAssociationFailed  = 8
	codeIncorrectAction    = 11
	codeEmptyMessage       = 12
	codeNoURLProvided      = 14
	codeNoLoginsFound      = 15
	codeNoGroupsFound      = 16
	codeCannotCreateGroup  = 17
	codePasswordGeneration = 18
	codeSaveFailed         = 19
)

var errorMessages = map[int]string{
	codeDatabaseNotOpened:  "database not opened",
	codeHashMismatch:       "database hash mismatch",
	codeClientKeyMissing:   "client public key not received",
	codeCannotDecrypt:      "cannot decrypt message",
	codeActionCancelled:    "action cancelled or denied",
	codeEncryptionFailed:   "cannot encrypt message",
	codeAssociationFailed:  "association failed",
	codeIncorrectAction:    "incorrect action",
	codeEmptyMessage:       "empty message received",
	codeNoURLProvided:      "no URL provided",
	codeNoLoginsFound:      "no logins found",
	codeNoGroupsFound:      "no groups found",
	codeCannotCreateGroup:  "cannot create new group",
	codePasswordGeneration: "cannot generate password",
	codeSaveFailed:         "could not save entry",
}

func errorMessage(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "unknown error"
}
