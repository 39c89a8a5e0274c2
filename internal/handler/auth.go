package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/okhvat/account-sessions/internal/auth"
	"github.com/okhvat/account-sessions/internal/config"
	"github.com/okhvat/account-sessions/internal/model"
	"github.com/okhvat/account-sessions/internal/repository"
	"github.com/okhvat/account-sessions/internal/utils"
)

// AccountDirectory is the slice of the account store the auth endpoints
// need directly: signup inserts, login reads. Everything token-shaped goes
// through the engine.
type AccountDirectory interface {
	Create(ctx context.Context, alias, email, password string, cost int) (uint64, error)
	GetByAlias(ctx context.Context, alias string) (model.Account, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Accounts AccountDirectory
	Engine   *auth.Engine
}

func NewAuthHandler(cfg config.Config, accts AccountDirectory, eng *auth.Engine) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Accounts: accts, Engine: eng}
}

// ----- DTOs -----

type signupReq struct {
	Alias    string `json:"alias"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Alias    string `json:"alias"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type accountPart struct {
	ID    uint64 `json:"id"`
	Alias string `json:"alias"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	Account accountPart `json:"account"`
	Access  tokenPart   `json:"access"`
	Refresh tokenPart   `json:"refresh"`
}

func summary(a model.Account) accountPart {
	return accountPart{ID: a.ID, Alias: a.Alias, Email: a.Email, Role: a.Role}
}

// authErrStatus maps engine taxonomy errors to HTTP statuses. Expected
// authentication failures come back as 401/403 and are not logged as
// faults; store trouble maps to 503.
func authErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, auth.ErrTokenExpiredOrRevoked):
		return http.StatusUnauthorized, "invalid refresh token"
	case errors.Is(err, auth.ErrAccountBlocked):
		return http.StatusForbidden, "account is blocked"
	case errors.Is(err, auth.ErrAccountNotFound), errors.Is(err, auth.ErrUnknownToken):
		return http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrAlreadyRevoked),
		errors.Is(err, auth.ErrInvalidWindow),
		errors.Is(err, auth.ErrInvalidBlockDate):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrStoreUnavailable),
		errors.Is(err, auth.ErrEntropyUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

// Signup: create an account and return a fresh token pair.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Alias = strings.TrimSpace(req.Alias)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Alias == "" || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "alias/email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Accounts.Create(ctx, req.Alias, req.Email, req.Password, h.Cfg.BcryptCost)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAliasExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "alias already exists"})
		case errors.Is(err, repository.ErrEmailExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create account failed"})
	}

	return h.issuePair(c, ctx, model.Account{
		ID: id, Alias: req.Alias, Email: req.Email, Role: model.RoleUser,
	}, http.StatusCreated)
}

// Login: verify credentials and return a fresh token pair. The password
// check happens here; the engine only ever sees the verified account id.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Alias) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "alias/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	acct, err := h.Accounts.GetByAlias(ctx, req.Alias)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(acct.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	return h.issuePair(c, ctx, acct, http.StatusOK)
}

func (h *AuthHandler) issuePair(c echo.Context, ctx context.Context, acct model.Account, status int) error {
	issued, err := h.Engine.Issue(ctx, acct.ID)
	if err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, acct.ID, acct.Alias, acct.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(status, authResp{
		Account: summary(acct),
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: issued.Raw, Expires: issued.ValidUntil}, // raw back to client, once
	})
}

// Refresh: rotate the presented refresh token and return a new pair. The
// old token is dead after this call succeeds; replaying it fails.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	issued, acct, err := h.Engine.Rotate(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, acct.ID, acct.Alias, acct.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		Account: summary(acct),
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: issued.Raw, Expires: issued.ValidUntil},
	})
}

// RefreshAccess: validate a refresh token and return a new access token
// WITHOUT rotating the refresh token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	acct, err := h.Engine.Validate(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, acct.ID, acct.Alias, acct.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account": summary(acct),
		"access":  tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout revokes one session (refresh token in the body) or every session
// of the bearer (Authorization header, no body token). Single-session
// logout works without an access token so a client can always end the
// session it holds the refresh token for.
func (h *AuthHandler) Logout(c echo.Context) error {
	uid, hasBearer := h.bearerSubject(c)

	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if refreshToken != "" {
		if err := h.Engine.Logout(ctx, refreshToken); err != nil {
			code, msg := authErrStatus(err)
			return c.JSON(code, echo.Map{"error": msg})
		}
		return c.NoContent(http.StatusNoContent)
	}
	if hasBearer && uid != 0 {
		if err := h.Engine.RevokeAll(ctx, uid, model.RevocationLogout); err != nil {
			code, msg := authErrStatus(err)
			return c.JSON(code, echo.Map{"error": msg})
		}
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
}

// bearerSubject parses an optional Authorization header and returns the
// subject claim. Logout accepts either credential, so absence is not an
// error here.
func (h *AuthHandler) bearerSubject(c echo.Context) (uint64, bool) {
	authHeader := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return 0, false
	}
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(h.Cfg.JWTSecret), nil
	})
	if err != nil || !tok.Valid {
		return 0, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	switch sub := claims["sub"].(type) {
	case float64:
		return uint64(sub), true
	case string:
		if parsed, err := strconv.ParseUint(sub, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// Me: simple protected endpoint.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"account_id": c.Get("account_id"),
		"alias":      c.Get("alias"),
		"role":       c.Get("role"),
	})
}
