package protocol

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

var (
	errNoClientKey = errors.New("no client public key established")
	errBadNonce    = errors.New("malformed nonce")
	errOpenFailed  = errors.New("message authentication failed")
)

// session holds the NaCl box key material of one client conversation.
// A new server key pair is generated on every key exchange; all encrypted
// traffic before an exchange is rejected.
type session struct {
	serverPublic  *[32]byte
	serverPrivate *[32]byte
	clientPublic  *[32]byte
}

// exchange installs the client's public key and generates a fresh server
// key pair. Returns the server public key, base64-encoded.
func (s *session) exchange(clientKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(clientKey)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("malformed client public key")
	}
	clientPublic := new([32]byte)
	copy(clientPublic[:], raw)

	public, private, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	s.serverPublic, s.serverPrivate, s.clientPublic = public, private, clientPublic
	return base64.StdEncoding.EncodeToString(public[:]), nil
}

func (s *session) established() bool {
	return s.clientPublic != nil
}

// decrypt opens one base64 sealed payload with its base64 nonce.
func (s *session) decrypt(message, nonce string) ([]byte, error) {
	if !s.established() {
		return nil, errNoClientKey
	}
	n, err := decodeNonce(nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("malformed message payload")
	}
	plain, ok := box.Open(nil, sealed, n, s.clientPublic, s.serverPrivate)
	if !ok {
		return nil, errOpenFailed
	}
	return plain, nil
}

// encrypt seals one payload and returns it base64-encoded.
func (s *session) encrypt(plain []byte, nonce *[nonceSize]byte) (string, error) {
	if !s.established() {
		return "", errNoClientKey
	}
	sealed := box.Seal(nil, plain, nonce, s.clientPublic, s.serverPrivate)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decodeNonce(nonce string) (*[nonceSize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(raw) != nonceSize {
		return nil, errBadNonce
	}
	n := new([nonceSize]byte)
	copy(n[:], raw)
	return n, nil
}

// incrementNonce returns the request nonce plus one, little-endian, the
// form clients expect on the response.
func incrementNonce(n *[nonceSize]byte) *[nonceSize]byte {
	out := new([nonceSize]byte)
	copy(out[:], n[:])
	carry := uint16(1)
	for i := 0; i < nonceSize && carry > 0; i++ {
		carry += uint16(out[i])
		out[i] = byte(carry)
		carry >>= 8
	}
	return out
}

func encodeNonce(n *[nonceSize]byte) string {
	return base64.StdEncoding.EncodeToString(n[:])
}
