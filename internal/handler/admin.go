package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/okhvat/account-sessions/internal/auth"
	"github.com/okhvat/account-sessions/internal/model"
)

// AdminHandler exposes the administrative account-guard operations.
// Routes using it must sit behind the ADMIN role middleware.
type AdminHandler struct {
	Engine *auth.Engine
}

func NewAdminHandler(eng *auth.Engine) *AdminHandler { return &AdminHandler{Engine: eng} }

type blockReq struct {
	Reason string `json:"reason"`
}

// Block deactivates an account. Outstanding refresh tokens are left
// untouched; validation consults the guard on every request, so the block
// is effective immediately anyway.
func (h *AdminHandler) Block(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid account id"})
	}
	var req blockReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reason required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.Block(ctx, id, strings.TrimSpace(req.Reason)); err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	return c.NoContent(http.StatusNoContent)
}

// Unblock reactivates an account; a no-op when it is not blocked.
func (h *AdminHandler) Unblock(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid account id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.Unblock(ctx, id); err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeAll is the administrative "log this account out everywhere":
// every live token is revoked with reason=manual.
func (h *AdminHandler) RevokeAll(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid account id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.RevokeAll(ctx, id, model.RevocationManual); err != nil {
		code, msg := authErrStatus(err)
		return c.JSON(code, echo.Map{"error": msg})
	}
	return c.NoContent(http.StatusNoContent)
}
