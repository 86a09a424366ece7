package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/linkpay/internal/app/service"
	httpUtil "github.com/sifan077/linkpay/internal/http/util"
	"go.uber.org/zap"
)

const allocationRetryAfter = "1"

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{service.ErrCodeTaken, fiber.StatusConflict, "CodeTaken"},
	{service.ErrInvalidURL, fiber.StatusUnprocessableEntity, "InvalidUrl"},
	{service.ErrInvalidCustomCode, fiber.StatusUnprocessableEntity, "InvalidCustomCode"},
	{service.ErrShortCodeImmutable, fiber.StatusUnprocessableEntity, "ShortCodeImmutable"},
	{service.ErrInvalidInput, fiber.StatusUnprocessableEntity, "InvalidInput"},
	{service.ErrLinkNotFound, fiber.StatusNotFound, "LinkNotFound"},
	{service.ErrLinkInactive, fiber.StatusNotFound, "LinkInactive"},
	{service.ErrLinkExpired, fiber.StatusGone, "LinkExpired"},
	{service.ErrForbidden, fiber.StatusForbidden, "Forbidden"},
	{service.ErrInvalidPeriod, fiber.StatusBadRequest, "InvalidPeriod"},
	{service.ErrPasswordRequired, fiber.StatusUnauthorized, "PasswordRequired"},
	{service.ErrInvalidPassword, fiber.StatusUnauthorized, "InvalidPassword"},
	{httpUtil.ErrInvalidToken, fiber.StatusUnauthorized, "InvalidToken"},
	{service.ErrAllocationExhausted, fiber.StatusServiceUnavailable, "AllocationExhausted"},
}

// respondError writes the JSON error body for err. Unmapped errors are logged
// and reported as a generic 500.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.status == fiber.StatusServiceUnavailable {
			c.Set(fiber.HeaderRetryAfter, allocationRetryAfter)
		}
		return c.Status(m.status).JSON(fiber.Map{
			"error": err.Error(),
			"code":  m.code,
		})
	}

	logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
		"code":  "Internal",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "BadRequest",
	})
}
