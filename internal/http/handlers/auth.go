package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/job"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/jobs"
	"github.com/geocoder89/taskhub/internal/notifications"
	"github.com/geocoder89/taskhub/internal/oauth"
	"github.com/geocoder89/taskhub/internal/repo/postgres"
	"github.com/geocoder89/taskhub/internal/security"
	"github.com/gin-gonic/gin"
)

// Keep the store dependencies as small interfaces so tests can fake them.

type UserStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	SetPassword(ctx context.Context, id string, passwordHash string) error
}

type CodeStore interface {
	Issue(ctx context.Context, userID string, purpose string, code int) error
	VerifyEmail(ctx context.Context, email string, code int) error
	ResetPassword(ctx context.Context, email string, code int, newHash string) error
}

type SessionStore interface {
	StoreNew(ctx context.Context, row postgres.RefreshTokenRow) error
	Rotate(ctx context.Context, presentedJTI, presentedHash string, newRow postgres.RefreshTokenRow) (string, error)
	RevokeByJTI(ctx context.Context, jti string) error
	RevokeAll(ctx context.Context, userID string) error
}

type JobEnqueuer interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type OAuthProviders struct {
	Google *oauth.Provider
	Github *oauth.Provider
}

type AuthHandler struct {
	users     UserStore
	codes     CodeStore
	sessions  SessionStore
	jwt       *auth.Manager
	mailer    notifications.Mailer
	jobQueue  JobEnqueuer
	providers OAuthProviders
	cfg       config.Config
}

func NewAuthHandler(users UserStore, codes CodeStore, sessions SessionStore, jwtManager *auth.Manager, mailer notifications.Mailer, jobQueue JobEnqueuer, providers OAuthProviders, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users:     users,
		codes:     codes,
		sessions:  sessions,
		jwt:       jwtManager,
		mailer:    mailer,
		jobQueue:  jobQueue,
		providers: providers,
		cfg:       cfg,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  int    `json:"code" binding:"required,min=100000,max=999999"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        int    `json:"code" binding:"required,min=100000,max=999999"`
	NewPassword string `json:"newPassword" binding:"required,min=8"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

// Register creates an employee account and mails out a verification code.
func (h *AuthHandler) Register(ctx *gin.Context) {
	h.register(ctx, user.RoleUser)
}

// RegisterManager is the same flow with the manager role.
func (h *AuthHandler) RegisterManager(ctx *gin.Context) {
	h.register(ctx, user.RoleManager)
}

func (h *AuthHandler) register(ctx *gin.Context, role user.Role) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	exists, err := h.users.EmailExists(cctx, req.Email)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	if exists {
		RespondConflict(ctx, "email_taken", "Email is already in use.")
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.users.Create(cctx, user.NewFromRegisterRequest(req, hash, role))

	if err != nil {
		// the pre-check races with concurrent registrations; the unique
		// index is what actually decides
		if errors.Is(err, user.ErrEmailTaken) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := h.issueAndMailCode(ctx, cctx, u, user.CodePurposeEmailVerify); err != nil {
		// the account exists; the code mail will be retried by the
		// outbox, but the caller should know delivery did not happen
		RespondInternal(ctx, "Could not send verification email")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"user": u,
	})
}

func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	var req VerifyEmailRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	err := h.codes.VerifyEmail(cctx, req.Email, req.Code)

	if err != nil {
		if errors.Is(err, user.ErrInvalidCode) {
			RespondBadRequest(ctx, "Invalid or expired verification code.", nil)
			return
		}

		RespondInternal(ctx, "Could not verify email")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"verified": true,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}
	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	// OAuth-only accounts have no password to check
	if foundUser.PasswordHash == nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(*foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if foundUser.IsBlocked {
		RespondForbidden(ctx, "This account has been blocked.")
		return
	}

	if !foundUser.IsVerified {
		RespondUnAuthorized(ctx, "email_not_verified", "Verify your email before logging in.")
		return
	}

	h.issueSession(ctx, cctx, foundUser, http.StatusOK)
}

// Refresh rotates the refresh token and hands back a fresh access token.

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(claims.UserID, claims.Email, claims.Role)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	userID, err := h.sessions.Rotate(cctx, claims.JTI, h.jwt.HashRefreshToken(raw), newRow)

	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrExpiredRefresh):
			RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		case errors.Is(err, postgres.ErrRefreshTokenNotFound), errors.Is(err, postgres.ErrInvalidRefresh):
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		default:
			RespondInternal(ctx, "Could not refresh session")
		}
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(userID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

// Logout revokes the presented session and clears the cookie. Idempotent.

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		// still clear cookie to be safe
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	_ = h.sessions.RevokeByJTI(cctx, claims.JTI)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// ForgotPassword mails a reset code. The response does not reveal whether
// the address has an account.
func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	u, err := h.users.GetByEmail(cctx, req.Email)

	if err == nil {
		if mailErr := h.issueAndMailCode(ctx, cctx, u, user.CodePurposePasswordReset); mailErr != nil {
			RespondInternal(ctx, "Could not send reset email")
			return
		}
	} else if !errors.Is(err, user.ErrNotFound) {
		RespondInternal(ctx, "Could not process request")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "If that email is registered, a reset code is on its way.",
	})
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	err = h.codes.ResetPassword(cctx, req.Email, req.Code, hash)

	if err != nil {
		if errors.Is(err, user.ErrInvalidCode) {
			RespondBadRequest(ctx, "Invalid or expired reset code.", nil)
			return
		}

		RespondInternal(ctx, "Could not reset password")
		return
	}

	// kill every live session now that the credential changed
	if u, err := h.users.GetByEmail(cctx, req.Email); err == nil {
		_ = h.sessions.RevokeAll(cctx, u.ID)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Password has been reset.",
	})
}

// ChangePassword lets an authenticated user rotate their own password.
func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	var req ChangePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	u, err := h.users.GetByID(cctx, userID)

	if err != nil {
		RespondUnAuthorized(ctx, "unauthorized", "Account no longer exists")
		return
	}

	if u.PasswordHash == nil || security.CheckPassword(*u.PasswordHash, req.CurrentPassword) != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Current password is incorrect.")
		return
	}

	hash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	if err := h.users.SetPassword(cctx, u.ID, hash); err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	_ = h.sessions.RevokeAll(cctx, u.ID)

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Password has been changed.",
	})
}

// OAuth login flow

func (h *AuthHandler) GoogleLogin(ctx *gin.Context) {
	h.oauthRedirect(ctx, h.providers.Google)
}

func (h *AuthHandler) GoogleCallback(ctx *gin.Context) {
	h.oauthCallback(ctx, h.providers.Google)
}

func (h *AuthHandler) GithubLogin(ctx *gin.Context) {
	h.oauthRedirect(ctx, h.providers.Github)
}

func (h *AuthHandler) GithubCallback(ctx *gin.Context) {
	h.oauthCallback(ctx, h.providers.Github)
}

func (h *AuthHandler) oauthRedirect(ctx *gin.Context, provider *oauth.Provider) {
	if provider == nil || !provider.Configured() {
		RespondNotFound(ctx, "Provider not configured")
		return
	}

	state, err := randomState()

	if err != nil {
		RespondInternal(ctx, "Could not start OAuth flow")
		return
	}

	h.setStateCookie(ctx, provider.Name, state)

	ctx.Redirect(http.StatusTemporaryRedirect, provider.AuthCodeURL(state))
}

func (h *AuthHandler) oauthCallback(ctx *gin.Context, provider *oauth.Provider) {
	if provider == nil || !provider.Configured() {
		RespondNotFound(ctx, "Provider not configured")
		return
	}

	state := ctx.Query("state")
	code := ctx.Query("code")

	cookieState, err := ctx.Cookie(h.stateCookieName(provider.Name))

	if err != nil || state == "" || state != cookieState {
		RespondUnAuthorized(ctx, "invalid_state", "OAuth state mismatch")
		return
	}

	h.clearStateCookie(ctx, provider.Name)

	if code == "" {
		RespondBadRequest(ctx, "Missing authorization code", nil)
		return
	}

	cctx, cancel := config.WithTimeout(10 * time.Second)

	defer cancel()

	profile, err := provider.FetchProfile(cctx, code)

	if err != nil {
		RespondUnAuthorized(ctx, "oauth_failed", "Could not authenticate with provider")
		return
	}

	u, err := h.users.GetByEmail(cctx, profile.Email)

	if errors.Is(err, user.ErrNotFound) {
		u, err = h.users.Create(cctx, user.NewFromOAuthProfile(profile.Email, profile.FirstName, profile.LastName))
	}

	if err != nil {
		RespondInternal(ctx, "Could not sign in")
		return
	}

	if u.IsBlocked {
		RespondForbidden(ctx, "This account has been blocked.")
		return
	}

	h.issueSession(ctx, cctx, u, http.StatusOK)
}

// Helper functions

// issueSession mints the access/refresh pair, persists the session row and
// sets the refresh cookie.
func (h *AuthHandler) issueSession(ctx *gin.Context, cctx context.Context, u user.User, status int) {
	accessToken, err := h.jwt.GenerateAccessToken(u.ID, u.Email, string(u.Role))

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	rawRefreshToken, jti, expiresAt, err := h.jwt.GenerateRefreshToken(u.ID, u.Email, string(u.Role))

	if err != nil {
		RespondInternal(ctx, "Could not generate refresh token")
		return
	}

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: h.jwt.HashRefreshToken(rawRefreshToken),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.sessions.StoreNew(cctx, row); err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setRefreshCookie(ctx, rawRefreshToken, expiresAt)

	ctx.JSON(status, gin.H{
		"accessToken": accessToken,
		"user":        u,
	})
}

// issueAndMailCode stores a fresh one-time code and mails it. On delivery
// failure the mail is parked in the outbox so the worker can retry it.
func (h *AuthHandler) issueAndMailCode(ctx *gin.Context, cctx context.Context, u user.User, purpose string) error {
	code, err := security.GenerateVerificationCode()

	if err != nil {
		return err
	}

	if err := h.codes.Issue(cctx, u.ID, purpose, code); err != nil {
		return err
	}

	msg := codeMessage(u, purpose, code)

	sendErr := h.mailer.Send(cctx, msg)

	if sendErr != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "mail_send_failed",
			"purpose", purpose,
			"err", sendErr,
		)
		h.enqueueMailRetry(cctx, msg, purpose)
	}

	return sendErr
}

func codeMessage(u user.User, purpose string, code int) notifications.Message {
	switch purpose {
	case user.CodePurposePasswordReset:
		return notifications.Message{
			To:      u.Email,
			Subject: "Reset your password",
			Body:    fmt.Sprintf("Hi %s,\n\nYour password reset code is %d. It expires in 15 minutes.\n", u.FirstName, code),
		}
	default:
		return notifications.Message{
			To:      u.Email,
			Subject: "Verify your email",
			Body:    fmt.Sprintf("Hi %s,\n\nYour verification code is %d. It expires in 15 minutes.\n", u.FirstName, code),
		}
	}
}

func (h *AuthHandler) enqueueMailRetry(cctx context.Context, msg notifications.Message, purpose string) {
	if h.jobQueue == nil {
		return
	}

	payload, err := jobs.MailSendPayload{
		To:          msg.To,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Purpose:     purpose,
		RequestedAt: time.Now().UTC(),
	}.JSON()

	if err != nil {
		return
	}

	if _, err := h.jobQueue.Create(cctx, job.CreateRequest{
		Type:    jobs.TypeMailSend,
		Payload: payload,
	}); err != nil {
		slog.Default().Error("mail_outbox_enqueue_failed", "err", err)
	}
}

func randomState() (string, error) {
	var b [16]byte

	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}

	return hex.EncodeToString(b[:]), nil
}

func (h *AuthHandler) refreshCookieName() string {
	return "refresh_token"
}

func (h *AuthHandler) stateCookieName(provider string) string {
	return "oauth_state_" + provider
}

func (h *AuthHandler) setStateCookie(ctx *gin.Context, provider, state string) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(h.stateCookieName(provider), state, 600, "/", "", secure, true)
}

func (h *AuthHandler) clearStateCookie(ctx *gin.Context, provider string) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(h.stateCookieName(provider), "", -1, "/", "", secure, true)
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"

	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.refreshCookieName(),
		raw,
		maxAge,
		"/api/auth",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		"",

		-1,
		"/api/auth",
		"",
		secure,
		true,
	)
}
