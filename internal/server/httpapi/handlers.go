package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/dmitrijs2005/socialauth/internal/server/services"
	"github.com/gofiber/fiber/v2"
)

// AuthService is the subset of services.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	VerifyRegistration(ctx context.Context, email, code string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, identifier, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Authenticate(ctx context.Context, accessToken string) (string, error)
	CurrentPrincipal(ctx context.Context, userID string) (*models.User, error)
}

type RegisterRequest struct {
	Username string `json:"username" form:"username" validate:"required,max=50"`
	Email    string `json:"email" form:"email" validate:"required,max=255"`
	Password string `json:"password" form:"password" validate:"required"`
	FullName string `json:"full_name" form:"full_name" validate:"max=255"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" form:"email" validate:"required,max=255"`
	Code  string `json:"otp" form:"otp" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" form:"email" validate:"required,max=255"`
}

// LoginRequest accepts a username or an email in Username, matching the
// OAuth2 password form.
type LoginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" form:"email" validate:"required,max=255"`
	Code        string `json:"otp" form:"otp" validate:"required"`
	NewPassword string `json:"new_password" form:"new_password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" form:"new_password" validate:"required"`
}

type UserResponse struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

const (
	msgVerificationSent = "If the account exists and is not verified, a verification code has been sent."
	msgResetSent        = "If the email is registered, a password reset code has been sent."
)

type handlers struct {
	svc AuthService
}

func (h *handlers) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	user, err := h.svc.Register(c.UserContext(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
}

func (h *handlers) verifyOTP(c *fiber.Ctx) error {
	var req VerifyOTPRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	if err := h.svc.VerifyRegistration(c.UserContext(), req.Email, req.Code); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: "Email verified successfully."})
}

func (h *handlers) resendOTP(c *fiber.Ctx) error {
	var req EmailRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	if err := h.svc.ResendVerification(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: msgVerificationSent})
}

func (h *handlers) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	pair, err := h.svc.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(toTokenResponse(pair))
}

// refresh takes the token from the body or, failing that, the
// refresh_token query parameter.
func (h *handlers) refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = strings.TrimSpace(c.Query("refresh_token"))
	}
	if token == "" {
		return badRequest("refresh_token is required")
	}

	pair, err := h.svc.Refresh(c.UserContext(), token)
	if err != nil {
		return err
	}
	return c.JSON(toTokenResponse(pair))
}

func (h *handlers) forgotPassword(c *fiber.Ctx) error {
	var req EmailRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	if err := h.svc.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: msgResetSent})
}

func (h *handlers) resetPassword(c *fiber.Ctx) error {
	var req ResetPasswordRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	if err := h.svc.ResetPassword(c.UserContext(), req.Email, req.Code, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: "Password has been reset successfully."})
}

func (h *handlers) me(c *fiber.Ctx) error {
	user, err := h.svc.CurrentPrincipal(c.UserContext(), currentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(toUserResponse(user))
}

func (h *handlers) changePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	if err := h.svc.ChangePassword(c.UserContext(), currentUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: "Password updated successfully."})
}

func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

func toTokenResponse(p *services.TokenPair) TokenResponse {
	return TokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, TokenType: p.TokenType}
}
