// server/auth/auth.go
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ViniZap4/tagkosha-server/tags"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	Header    = "X-Tagkosha-Token"
	ownerKey  = "owner_id"
	separator = "."
)

var ErrInvalidToken = errors.New("invalid token")

func mac(secret []byte, ownerID string) ([]byte, error) {
	h, err := blake2b.New256(secret)
	if err != nil {
		return nil, fmt.Errorf("init mac: %w", err)
	}
	h.Write([]byte(ownerID))
	return h.Sum(nil), nil
}

// MintToken returns an identity token for ownerID signed with secret. The
// owner id must satisfy tags.ValidOwner.
func MintToken(secret []byte, ownerID string) (string, error) {
	if !tags.ValidOwner(ownerID) {
		return "", tags.ErrInvalidOwner
	}
	sum, err := mac(secret, ownerID)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(ownerID)) + separator + hex.EncodeToString(sum), nil
}

// VerifyToken checks token against secret and returns the owner it names.
func VerifyToken(secret []byte, token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, separator)
	if !ok {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || !tags.ValidOwner(string(raw)) {
		return "", ErrInvalidToken
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidToken
	}
	want, err := mac(secret, string(raw))
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return "", ErrInvalidToken
	}
	return string(raw), nil
}

// Middleware rejects requests without a valid token and stores the owner
// for OwnerID. EventSource clients cannot set headers, so the token is also
// read from the "token" query parameter.
func Middleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(Header)
		if token == "" {
			token = c.Query("token")
		}
		owner, err := VerifyToken(secret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		c.Locals(ownerKey, owner)
		return c.Next()
	}
}

// OwnerID returns the owner authenticated by Middleware.
func OwnerID(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey).(string)
	return owner
}
