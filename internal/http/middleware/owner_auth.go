package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// OwnerIDHeader carries the owner id when no JWT secret is configured.
	OwnerIDHeader = "X-Owner-ID"

	localOwnerID   = "owner_id"
	maxOwnerIDSize = 64
)

var errMissingSubject = errors.New("token has no subject")

// OwnerAuth identifies the link owner of a management request. With a secret it
// requires an HS256 bearer token and uses its subject; without one it trusts
// the X-Owner-ID header, which is only suitable behind an authenticating proxy.
func OwnerAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var owner string
		if len(secret) == 0 {
			owner = strings.TrimSpace(c.Get(OwnerIDHeader))
		} else {
			raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
			if !ok {
				return unauthorized(c, "bearer token required")
			}
			sub, err := ownerFromToken(strings.TrimSpace(raw), secret)
			if err != nil {
				return unauthorized(c, "invalid token")
			}
			owner = sub
		}

		if owner == "" || len(owner) > maxOwnerIDSize {
			return unauthorized(c, "owner identity required")
		}
		c.Locals(localOwnerID, utils.CopyString(owner))
		return c.Next()
	}
}

// OwnerID returns the owner resolved by OwnerAuth, or "".
func OwnerID(c *fiber.Ctx) string {
	owner, _ := c.Locals(localOwnerID).(string)
	return owner
}

func ownerFromToken(raw string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}
