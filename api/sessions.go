package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/groupdec/mediator/internal/service"
)

// SessionCreateRequest is the request to create a session.
type SessionCreateRequest struct {
	Topic          string `json:"topic"`
	AdminName      string `json:"admin_name"`
	Identity       string `json:"identity,omitempty"`
	MaxRounds      int    `json:"max_rounds,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MinResponsePct int    `json:"min_response_pct,omitempty"`
}

// CreateSession creates a new decision session.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req SessionCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Topic == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "topic is required"})
	}
	if req.AdminName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "admin_name is required"})
	}

	session, err := h.svc.CreateSession(ctx, req.Topic, req.AdminName, req.Identity, service.Options{
		MaxRounds:      req.MaxRounds,
		TimeoutSeconds: req.TimeoutSeconds,
		MinResponsePct: req.MinResponsePct,
	})
	if err != nil {
		log.Printf("ERROR: failed to create session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":  session.ID,
		"invite_code": session.InviteCode,
		"admin_id":    session.AdminID,
	})
}

// SessionJoinRequest is the request to join a session by invite code.
type SessionJoinRequest struct {
	InviteCode string `json:"invite_code"`
	Name       string `json:"name"`
	Identity   string `json:"identity,omitempty"`
}

// JoinSession joins an existing session.
// POST /v1/sessions/join
func (h *Handler) JoinSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req SessionJoinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.InviteCode == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invite_code is required"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	session, member, err := h.svc.JoinSession(ctx, req.InviteCode, req.Name, req.Identity)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"member_id":  member.ID,
		"topic":      session.Topic,
	})
}

// memberRequest carries the acting member for lifecycle endpoints.
type memberRequest struct {
	MemberID string `json:"member_id"`
}

// StartSession starts the decision process.
// POST /v1/sessions/:session_id/start
func (h *Handler) StartSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req memberRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member_id is required"})
	}

	if err := h.svc.StartSession(ctx, c.Param("session_id"), req.MemberID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ResponseRequest is a member's answer for the current round.
type ResponseRequest struct {
	MemberID string `json:"member_id"`
	Answer   string `json:"answer"`
}

// SubmitResponse records a member's answer.
// POST /v1/sessions/:session_id/responses
func (h *Handler) SubmitResponse(c echo.Context) error {
	ctx := c.Request().Context()

	var req ResponseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member_id is required"})
	}
	if req.Answer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "answer is required"})
	}

	if err := h.svc.SubmitResponse(ctx, c.Param("session_id"), req.MemberID, req.Answer); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// VoteRequest is a member's vote for one option (1-based).
type VoteRequest struct {
	MemberID string `json:"member_id"`
	Option   int    `json:"option"`
}

// SubmitVote records a member's vote.
// POST /v1/sessions/:session_id/votes
func (h *Handler) SubmitVote(c echo.Context) error {
	ctx := c.Request().Context()

	var req VoteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member_id is required"})
	}

	if err := h.svc.SubmitVote(ctx, c.Param("session_id"), req.MemberID, req.Option); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ForceProceed completes the current round with the responses on hand.
// POST /v1/sessions/:session_id/proceed
func (h *Handler) ForceProceed(c echo.Context) error {
	ctx := c.Request().Context()

	var req memberRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member_id is required"})
	}

	if err := h.svc.ForceProceed(ctx, c.Param("session_id"), req.MemberID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// CancelSession cancels a session.
// DELETE /v1/sessions/:session_id?member_id=...
func (h *Handler) CancelSession(c echo.Context) error {
	ctx := c.Request().Context()

	memberID := c.QueryParam("member_id")
	if memberID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member_id is required"})
	}

	if err := h.svc.CancelSession(ctx, c.Param("session_id"), memberID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// GetSession returns the full session snapshot.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.svc.GetSession(c.Param("session_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ListSessions lists all sessions.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.svc.ListSessions()

	list := make([]map[string]interface{}, len(sessions))
	for i, s := range sessions {
		list[i] = map[string]interface{}{
			"session_id":    s.ID,
			"topic":         s.Topic,
			"status":        s.Status,
			"current_round": s.CurrentRound,
			"members":       len(s.Members),
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": list})
}
