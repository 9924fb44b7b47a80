// Package token issues and validates short-lived capability tokens for
// external reporting modules. Tokens are self-describing: validity is derived
// from the issue timestamp embedded in the token, so the authority keeps no
// per-token state and nothing is ever revoked, only expired.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Prefix marks every token issued by this authority.
const Prefix = "RPT-"

// Validity is how long a token is accepted after issuance.
const Validity = 24 * time.Hour

// Subject kinds baked into the token body.
const (
	KindModule   = byte(1)
	KindDocument = byte(2)
)

const (
	layoutVersion = byte(1)
	// version(1) + kind(1) + issuedAt millis(8) + nonce(8) + userID(8) + moduleID(8)
	layoutLen = 34
)

// ModuleToken is the issuance response for an external-module token.
type ModuleToken struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	ModuleID  int64  `json:"moduleId"`
}

// DocumentToken is the issuance response for a document-reporting token.
type DocumentToken struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	Type      string `json:"type"`
}

// Authority mints and checks tokens. It is stateless; the zero-value-like
// instance from New is safe for concurrent use.
type Authority struct {
	now func() time.Time
}

// New returns an Authority using the wall clock.
func New() *Authority {
	return &Authority{now: time.Now}
}

// NewWithClock returns an Authority with an injected clock, for tests that
// exercise the expiry boundary.
func NewWithClock(now func() time.Time) *Authority {
	return &Authority{now: now}
}

// IssueModuleToken mints a token granting an external module access on behalf
// of a user.
func (a *Authority) IssueModuleToken(userID, moduleID int64) (ModuleToken, error) {
	raw, err := a.encode(KindModule, userID, moduleID)
	if err != nil {
		return ModuleToken{}, err
	}
	return ModuleToken{
		Token:     raw,
		ExpiresIn: int64(Validity / time.Second),
		ModuleID:  moduleID,
	}, nil
}

// IssueDocumentToken mints a token for document reporting.
func (a *Authority) IssueDocumentToken(userID int64) (DocumentToken, error) {
	raw, err := a.encode(KindDocument, userID, 0)
	if err != nil {
		return DocumentToken{}, err
	}
	return DocumentToken{
		Token:     raw,
		ExpiresIn: int64(Validity / time.Second),
		Type:      "document",
	}, nil
}

// Validate checks a presented token. The result is a uniform accept/reject:
// a malformed token and an expired one are indistinguishable to the caller,
// so the response leaks nothing about the token format.
func (a *Authority) Validate(raw string) bool {
	if raw == "" || !strings.HasPrefix(raw, Prefix) {
		return false
	}
	body, err := base64.RawURLEncoding.DecodeString(raw[len(Prefix):])
	if err != nil || len(body) != layoutLen {
		return false
	}
	if body[0] != layoutVersion {
		return false
	}
	if kind := body[1]; kind != KindModule && kind != KindDocument {
		return false
	}
	issuedAt := int64(binary.BigEndian.Uint64(body[2:10]))
	expiry := issuedAt + Validity.Milliseconds()
	// Strict: a token expiring exactly now is already dead.
	return a.now().UnixMilli() < expiry
}

// encode packs the token body into its fixed binary layout. The random nonce
// keeps two tokens issued in the same millisecond for the same subject
// distinct.
func (a *Authority) encode(kind byte, userID, moduleID int64) (string, error) {
	body := make([]byte, layoutLen)
	body[0] = layoutVersion
	body[1] = kind
	binary.BigEndian.PutUint64(body[2:10], uint64(a.now().UnixMilli()))
	if _, err := rand.Read(body[10:18]); err != nil {
		return "", fmt.Errorf("token: generate nonce: %w", err)
	}
	binary.BigEndian.PutUint64(body[18:26], uint64(userID))
	binary.BigEndian.PutUint64(body[26:34], uint64(moduleID))
	return Prefix + base64.RawURLEncoding.EncodeToString(body), nil
}
