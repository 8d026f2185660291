// Package protocol implements the browser extension message protocol:
// per-client encrypted sessions, the action handlers, and the dispatcher
// that routes raw messages to one serialized handler per client.
package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/broker"
	"github.com/org/credbroker/pkg/models"
)

// Version is reported to clients in every successful response.
const Version = "1.4.0"

// Actions understood by a client handler.
const (
	actionChangePublicKeys  = "change-public-keys"
	actionGetDatabaseHash   = "get-databasehash"
	actionAssociate         = "associate"
	actionTestAssociate     = "test-associate"
	actionGetLogins         = "get-logins"
	actionSetLogin          = "set-login"
	actionGetTOTP           = "get-totp"
	actionGetDatabaseGroups = "get-database-groups"
	actionCreateNewGroup    = "create-new-group"
	actionLockDatabase      = "lock-database"
	actionGeneratePassword  = "generate-password"

	// Unsolicited broadcasts.
	ActionDatabaseLocked   = "database-locked"
	ActionDatabaseUnlocked = "database-unlocked"
)

// envelope is the outer, unencrypted message frame.
type envelope struct {
	Action    string `json:"action"`
	ClientID  string `json:"clientID"`
	Nonce     string `json:"nonce,omitempty"`
	Message   string `json:"message,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

// payload is the decrypted inner message, a superset of all action fields.
type payload struct {
	Action    string           `json:"action"`
	URL       string           `json:"url,omitempty"`
	SubmitURL string           `json:"submitUrl,omitempty"`
	Realm     string           `json:"realm,omitempty"`
	HTTPAuth  string           `json:"httpAuth,omitempty"`
	Keys      []models.KeyPair `json:"keys,omitempty"`
	ID        string           `json:"id,omitempty"`
	Key       string           `json:"key,omitempty"`
	IDKey     string           `json:"idKey,omitempty"`
	Login     string           `json:"login,omitempty"`
	Password  string           `json:"password,omitempty"`
	UUID      string           `json:"uuid,omitempty"`
	Group     string           `json:"group,omitempty"`
	GroupUUID string           `json:"groupUuid,omitempty"`
	GroupName string           `json:"groupName,omitempty"`
	Length    int              `json:"length,omitempty"`
}

// clientHandler owns one client's conversation: its crypto session and
// the serialization of its messages. Messages of one client are handled
// strictly in arrival order; handlers never interact with one another.
type clientHandler struct {
	clientID string
	broker   *broker.Broker

	mu      sync.Mutex
	session session
}

func newClientHandler(clientID string, b *broker.Broker) *clientHandler {
	return &clientHandler{clientID: clientID, broker: b}
}

// handle processes one raw message and returns the raw response.
func (h *clientHandler) handle(ctx context.Context, env *envelope) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if env.Action == actionChangePublicKeys {
		return h.changePublicKeys(env)
	}

	plain, err := h.session.decrypt(env.Message, env.Nonce)
	if err != nil {
		log.Debug().Err(err).Str("client", h.clientID).Str("action", env.Action).Msg("rejecting undecryptable message")
		return h.errorResponse(env.Action, codeCannotDecrypt)
	}
	var req payload
	if err := json.Unmarshal(plain, &req); err != nil {
		return h.errorResponse(env.Action, codeEmptyMessage)
	}
	if req.Action == "" {
		req.Action = env.Action
	}

	resp, code := h.process(ctx, &req)
	if code != 0 {
		return h.errorResponse(env.Action, code)
	}
	return h.encryptedResponse(env, resp)
}

// process runs one decrypted request. A non-zero code means an error
// response; otherwise resp carries the inner response fields.
func (h *clientHandler) process(ctx context.Context, req *payload) (resp map[string]any, code int) {
	switch req.Action {
	case actionGetDatabaseHash:
		return h.getDatabaseHash(ctx)
	case actionAssociate:
		return h.associate(ctx, req)
	case actionTestAssociate:
		return h.testAssociate(ctx, req)
	case actionGetLogins:
		return h.getLogins(ctx, req)
	case actionSetLogin:
		return h.setLogin(ctx, req)
	case actionGetTOTP:
		return h.getTOTP(ctx, req)
	case actionGetDatabaseGroups:
		return h.getDatabaseGroups(ctx)
	case actionCreateNewGroup:
		return h.createNewGroup(ctx, req)
	case actionLockDatabase:
		return h.lockDatabase(ctx)
	case actionGeneratePassword:
		return h.generatePassword(req)
	default:
		return nil, codeIncorrectAction
	}
}

func (h *clientHandler) changePublicKeys(env *envelope) []byte {
	if env.PublicKey == "" {
		return h.errorResponse(env.Action, codeClientKeyMissing)
	}
	serverKey, err := h.session.exchange(env.PublicKey)
	if err != nil {
		return h.errorResponse(env.Action, codeClientKeyMissing)
	}
	return marshal(map[string]any{
		"action":    env.Action,
		"publicKey": serverKey,
		"version":   Version,
		"success":   models.TrueStr,
	})
}

func (h *clientHandler) getDatabaseHash(ctx context.Context) (map[string]any, int) {
	hash := h.broker.DatabaseHash(ctx, false)
	if hash == "" {
		return nil, codeDatabaseNotOpened
	}
	return map[string]any{"hash": hash}, 0
}

// associate stores the client's identification key under a user-chosen
// label. The transport-level public key must match the session's to rule
// out key substitution.
func (h *clientHandler) associate(ctx context.Context, req *payload) (map[string]any, int) {
	if !h.session.established() || req.Key == "" {
		return nil, codeAssociationFailed
	}
	sessionKey, err := decodeKey(req.Key)
	if err != nil || *sessionKey != *h.session.clientPublic {
		return nil, codeAssociationFailed
	}
	if req.IDKey == "" {
		return nil, codeAssociationFailed
	}

	label, err := h.broker.StoreClientKey(ctx, req.IDKey)
	if err != nil || label == "" {
		return nil, codeAssociationFailed
	}
	return map[string]any{
		"id":   label,
		"hash": h.broker.DatabaseHash(ctx, false),
	}, 0
}

func (h *clientHandler) testAssociate(ctx context.Context, req *payload) (map[string]any, int) {
	if req.ID == "" || req.Key == "" {
		return nil, codeAssociationFailed
	}
	stored, err := h.broker.ClientKey(ctx, req.ID)
	if err != nil || stored == "" || stored != req.Key {
		return nil, codeAssociationFailed
	}
	return map[string]any{
		"id":   req.ID,
		"hash": h.broker.DatabaseHash(ctx, false),
	}, 0
}

func (h *clientHandler) getLogins(ctx context.Context, req *payload) (map[string]any, int) {
	if req.URL == "" {
		return nil, codeNoURLProvided
	}
	results := h.broker.FindLogins(ctx, h.clientID, &models.MatchRequest{
		PageURL:   req.URL,
		SubmitURL: req.SubmitURL,
		Realm:     req.Realm,
		HTTPAuth:  req.HTTPAuth == models.TrueStr,
		Keys:      req.Keys,
	})
	if len(results) == 0 {
		return nil, codeNoLoginsFound
	}
	return map[string]any{
		"entries": results,
		"count":   len(results),
		"hash":    h.broker.DatabaseHash(ctx, false),
	}, 0
}

func (h *clientHandler) setLogin(ctx context.Context, req *payload) (map[string]any, int) {
	if req.URL == "" {
		return nil, codeNoURLProvided
	}

	var err error
	if req.UUID == "" {
		err = h.broker.AddLogin(ctx, &broker.AddLoginRequest{
			Login:     req.Login,
			Password:  req.Password,
			URL:       req.URL,
			SubmitURL: req.SubmitURL,
			Realm:     req.Realm,
			Group:     req.Group,
			GroupUUID: req.GroupUUID,
		})
	} else {
		_, err = h.broker.UpdateLogin(ctx, req.UUID, req.Login, req.Password, req.URL, req.SubmitURL)
	}
	if err != nil {
		return nil, codeSaveFailed
	}
	return map[string]any{
		"hash": h.broker.DatabaseHash(ctx, false),
	}, 0
}

func (h *clientHandler) getTOTP(ctx context.Context, req *payload) (map[string]any, int) {
	code := h.broker.GetTOTP(ctx, req.UUID)
	if code == "" {
		return nil, codeNoLoginsFound
	}
	return map[string]any{"totp": code}, 0
}

func (h *clientHandler) getDatabaseGroups(ctx context.Context) (map[string]any, int) {
	root, err := h.broker.DatabaseGroups(ctx)
	if err != nil || root == nil {
		return nil, codeNoGroupsFound
	}
	return map[string]any{
		"groups":       map[string]any{"groups": []*models.GroupNode{root}},
		"defaultGroup": broker.DefaultGroupName,
	}, 0
}

func (h *clientHandler) createNewGroup(ctx context.Context, req *payload) (map[string]any, int) {
	if req.GroupName == "" {
		return nil, codeCannotCreateGroup
	}
	node, err := h.broker.CreateGroup(ctx, req.GroupName)
	if err != nil || node == nil {
		return nil, codeCannotCreateGroup
	}
	return map[string]any{"name": node.Name, "uuid": node.UUID}, 0
}

func (h *clientHandler) lockDatabase(ctx context.Context) (map[string]any, int) {
	manager := h.broker.Databases()
	db := manager.Active()
	if db == nil {
		return nil, codeDatabaseNotOpened
	}
	manager.LockDatabase(db)
	return map[string]any{}, 0
}

func (h *clientHandler) generatePassword(req *payload) (map[string]any, int) {
	password, err := broker.GeneratePassword(req.Length)
	if err != nil {
		return nil, codePasswordGeneration
	}
	return map[string]any{"password": password}, 0
}

// encryptedResponse seals the inner response fields under an incremented
// nonce.
func (h *clientHandler) encryptedResponse(env *envelope, fields map[string]any) []byte {
	fields["version"] = Version
	fields["success"] = models.TrueStr

	nonce, err := decodeNonce(env.Nonce)
	if err != nil {
		return h.errorResponse(env.Action, codeEncryptionFailed)
	}
	next := incrementNonce(nonce)
	fields["nonce"] = encodeNonce(next)

	sealed, err := h.session.encrypt(marshal(fields), next)
	if err != nil {
		return h.errorResponse(env.Action, codeEncryptionFailed)
	}
	return marshal(map[string]any{
		"action":  env.Action,
		"message": sealed,
		"nonce":   encodeNonce(next),
	})
}

func (h *clientHandler) errorResponse(action string, code int) []byte {
	return marshal(map[string]any{
		"action":    action,
		"errorCode": code,
		"error":     errorMessage(code),
	})
}

func marshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding protocol response")
		return []byte("{}")
	}
	return raw
}

func decodeKey(key string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return nil, errNoClientKey
	}
	out := new([32]byte)
	copy(out[:], raw)
	return out, nil
}
