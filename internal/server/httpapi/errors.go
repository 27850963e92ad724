package httpapi

import (
	"errors"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/gofiber/fiber/v2"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters only where sentinels could overlap; they currently don't.
var errorMappings = []errorMapping{
	{common.ErrDuplicateIdentity, fiber.StatusConflict, "duplicate_identity"},
	{common.ErrWeakPassword, fiber.StatusBadRequest, "weak_password"},
	{common.ErrInputTooLong, fiber.StatusBadRequest, "input_too_long"},
	{common.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input"},
	{common.ErrInvalidOrExpiredOTP, fiber.StatusBadRequest, "invalid_otp"},
	{common.ErrIncorrectPassword, fiber.StatusBadRequest, "incorrect_password"},
	{common.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials"},
	{common.ErrInvalidRefreshToken, fiber.StatusUnauthorized, "invalid_refresh_token"},
	{common.ErrEmailNotVerified, fiber.StatusForbidden, "email_not_verified"},
	{common.ErrPrincipalNotFound, fiber.StatusNotFound, "user_not_found"},
	{common.ErrEmailDispatchFailed, fiber.StatusBadGateway, "email_dispatch_failed"},
}

// errorHandler renders service errors. Anything not in errorMappings is
// logged and answered with a bare 500.
func errorHandler(logger logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		for _, m := range errorMappings {
			if errors.Is(err, m.target) {
				return c.Status(m.status).JSON(ErrorResponse{Error: m.code, Message: publicMessage(err, m.target)})
			}
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: "http_error", Message: fe.Message})
		}

		logger.Error(c.UserContext(), "request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
}

// publicMessage keeps the weak password rule and input details but drops
// wrapped causes such as SMTP errors.
func publicMessage(err, target error) string {
	var wp *common.WeakPasswordError
	if errors.As(err, &wp) {
		return wp.Error()
	}
	if target == common.ErrInvalidInput {
		return err.Error()
	}
	return target.Error()
}

func statusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
