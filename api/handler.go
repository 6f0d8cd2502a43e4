// Package api provides the HTTP surface of the mediator.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/groupdec/mediator/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.POST("/v1/sessions/join", h.JoinSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.DELETE("/v1/sessions/:session_id", h.CancelSession)
	e.POST("/v1/sessions/:session_id/start", h.StartSession)
	e.POST("/v1/sessions/:session_id/responses", h.SubmitResponse)
	e.POST("/v1/sessions/:session_id/votes", h.SubmitVote)
	e.POST("/v1/sessions/:session_id/proceed", h.ForceProceed)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// respondError maps engine errors to HTTP status codes.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrInvalidInviteCode):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidOption):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrWrongState),
		errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, service.ErrSessionFull),
		errors.Is(err, service.ErrTooFewMembers),
		errors.Is(err, service.ErrNoActiveRound),
		errors.Is(err, service.ErrAlreadyResponded),
		errors.Is(err, service.ErrScopingAdminOnly),
		errors.Is(err, service.ErrNoDecision):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
