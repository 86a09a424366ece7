package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"

	localRequestID   = "request_id"
	maxRequestIDSize = 64
)

// RequestID propagates the caller's request id, or assigns a fresh one when it
// is missing or oversized.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(RequestIDHeader)
		if rid == "" || len(rid) > maxRequestIDSize {
			rid = uuid.NewString()
		} else {
			rid = utils.CopyString(rid)
		}
		c.Set(RequestIDHeader, rid)
		c.Locals(localRequestID, rid)
		return c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(c *fiber.Ctx) string {
	rid, _ := c.Locals(localRequestID).(string)
	return rid
}
