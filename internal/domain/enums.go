// Package domain defines the core domain models for the mediator.
package domain

// SessionStatus represents the lifecycle state of a decision session.
type SessionStatus string

const (
	StatusCreated    SessionStatus = "CREATED"    // waiting for members
	StatusCollecting SessionStatus = "COLLECTING" // collecting responses for the current round
	StatusProcessing SessionStatus = "PROCESSING" // round closed, generation in flight
	StatusVoting     SessionStatus = "VOTING"     // final voting phase
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusCancelled  SessionStatus = "CANCELLED"
)

// Terminal reports whether the status is a final state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// MemberRole represents the role of a member within a session.
type MemberRole string

const (
	RoleAdmin       MemberRole = "admin"
	RoleParticipant MemberRole = "participant"
)
