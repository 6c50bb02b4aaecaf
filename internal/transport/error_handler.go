package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-service/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler renders every handler error as {"error": "..."}. Errors that are not *fiber.Error
// become a 500 whose detail is logged but not echoed to the client.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		requestLogger := observability.WithContextLogger(logger, c.UserContext())
		if code >= fiber.StatusInternalServerError {
			requestLogger.Error("request error", fields...)
		} else {
			requestLogger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
