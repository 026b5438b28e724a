package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
)

// queryLimit reads a positive ?limit= value, falling back to def when absent.
func queryLimit(c *fiber.Ctx, def int) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

// requestLogger decorates base with the request's correlation id and, behind
// JWT, the caller's subject.
func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	if c == nil {
		return &base
	}
	ctx := base.With()
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		ctx = ctx.Str("correlation_id", correlation)
	}
	if subject, ok := c.Locals("subject").(string); ok && subject != "" {
		ctx = ctx.Str("subject", subject)
	}
	logger := ctx.Logger()
	return &logger
}
