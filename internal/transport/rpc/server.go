// Package rpc exposes the engine over JSON-RPC for trusted channel adapters
// (chat bots and other co-located frontends) that multiplex many end users
// over one connection.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/service"
)

// Server accepts JSON-RPC connections bound to the engine.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the mediator service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Mediator", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the mediator RPC methods.
type Handler struct {
	service *service.Service
}

// CreateSessionArgs creates a session on behalf of a channel user.
type CreateSessionArgs struct {
	Topic          string `json:"topic"`
	AdminName      string `json:"admin_name"`
	Identity       string `json:"identity,omitempty"`
	MaxRounds      int    `json:"max_rounds,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MinResponsePct int    `json:"min_response_pct,omitempty"`
}

// CreateSessionResponse carries what the channel adapter needs to route the
// admin's follow-up calls.
type CreateSessionResponse struct {
	SessionID  string `json:"session_id"`
	InviteCode string `json:"invite_code"`
	AdminID    string `json:"admin_id"`
}

// JoinSessionArgs joins a channel user into a session by invite code.
type JoinSessionArgs struct {
	InviteCode string `json:"invite_code"`
	Name       string `json:"name"`
	Identity   string `json:"identity,omitempty"`
}

// JoinSessionResponse identifies the member within the session.
type JoinSessionResponse struct {
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
	Topic     string `json:"topic"`
}

// MemberArgs identifies the acting member for lifecycle methods.
type MemberArgs struct {
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
}

// ResponseArgs carries a member's answer for the current round.
type ResponseArgs struct {
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
	Answer    string `json:"answer"`
}

// VoteArgs carries a member's vote for one option (1-based).
type VoteArgs struct {
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
	Option    int    `json:"option"`
}

// AckResponse is a generic OK response.
type AckResponse struct {
	OK bool `json:"ok"`
}

// CreateSession creates a new decision session.
func (h *Handler) CreateSession(req *CreateSessionArgs, resp *CreateSessionResponse) error {
	if req == nil {
		return errors.New("create request is required")
	}
	if req.Topic == "" {
		return errors.New("topic is required")
	}
	if req.AdminName == "" {
		return errors.New("admin_name is required")
	}

	session, err := h.service.CreateSession(context.Background(), req.Topic, req.AdminName, req.Identity, service.Options{
		MaxRounds:      req.MaxRounds,
		TimeoutSeconds: req.TimeoutSeconds,
		MinResponsePct: req.MinResponsePct,
	})
	if err != nil {
		return err
	}
	if resp != nil {
		resp.SessionID = session.ID
		resp.InviteCode = session.InviteCode
		resp.AdminID = session.AdminID
	}
	return nil
}

// JoinSession adds a member to a session by invite code.
func (h *Handler) JoinSession(req *JoinSessionArgs, resp *JoinSessionResponse) error {
	if req == nil {
		return errors.New("join request is required")
	}
	if req.InviteCode == "" {
		return errors.New("invite_code is required")
	}
	if req.Name == "" {
		return errors.New("name is required")
	}

	session, member, err := h.service.JoinSession(context.Background(), req.InviteCode, req.Name, req.Identity)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.SessionID = session.ID
		resp.MemberID = member.ID
		resp.Topic = session.Topic
	}
	return nil
}

// StartSession begins the decision process.
func (h *Handler) StartSession(req *MemberArgs, resp *AckResponse) error {
	if err := validateMemberArgs(req); err != nil {
		return err
	}
	if err := h.service.StartSession(context.Background(), req.SessionID, req.MemberID); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// SubmitResponse records a member's answer for the current round.
func (h *Handler) SubmitResponse(req *ResponseArgs, resp *AckResponse) error {
	if req == nil {
		return errors.New("response request is required")
	}
	if req.SessionID == "" || req.MemberID == "" {
		return errors.New("session_id and member_id are required")
	}
	if req.Answer == "" {
		return errors.New("answer is required")
	}

	if err := h.service.SubmitResponse(context.Background(), req.SessionID, req.MemberID, req.Answer); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// SubmitVote records a member's vote.
func (h *Handler) SubmitVote(req *VoteArgs, resp *AckResponse) error {
	if req == nil {
		return errors.New("vote request is required")
	}
	if req.SessionID == "" || req.MemberID == "" {
		return errors.New("session_id and member_id are required")
	}

	if err := h.service.SubmitVote(context.Background(), req.SessionID, req.MemberID, req.Option); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// ForceProceed completes the current round with the responses on hand.
func (h *Handler) ForceProceed(req *MemberArgs, resp *AckResponse) error {
	if err := validateMemberArgs(req); err != nil {
		return err
	}
	if err := h.service.ForceProceed(context.Background(), req.SessionID, req.MemberID); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// CancelSession cancels a session.
func (h *Handler) CancelSession(req *MemberArgs, resp *AckResponse) error {
	if err := validateMemberArgs(req); err != nil {
		return err
	}
	if err := h.service.CancelSession(context.Background(), req.SessionID, req.MemberID); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// GetSessionArgs identifies a session to fetch.
type GetSessionArgs struct {
	SessionID string `json:"session_id"`
}

// GetSession returns the full session snapshot.
func (h *Handler) GetSession(req *GetSessionArgs, resp *domain.Session) error {
	if req == nil || req.SessionID == "" {
		return errors.New("session_id is required")
	}
	session, err := h.service.GetSession(req.SessionID)
	if err != nil {
		return err
	}
	if resp != nil {
		*resp = *session
	}
	return nil
}

func validateMemberArgs(req *MemberArgs) error {
	if req == nil {
		return errors.New("request is required")
	}
	if req.SessionID == "" || req.MemberID == "" {
		return errors.New("session_id and member_id are required")
	}
	return nil
}
