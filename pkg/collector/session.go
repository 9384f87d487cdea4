package collector

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionState is the per-attempt authentication state.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionChallengeIssued
	SessionAuthenticated
	SessionAccepted
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionChallengeIssued:
		return "ChallengeIssued"
	case SessionAuthenticated:
		return "Authenticated"
	case SessionAccepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

// Session is the ephemeral state of one ballot attempt. It is created when a
// challenge is issued and consumed on acceptance or abandoned; it never
// outlives the attempt.
type Session struct {
	Token      uuid.UUID
	VoterID    uint64
	Counter    uint64 // strictly increasing per voter in counter mode, zero otherwise
	IssuedTick uint64
	AcceptTick uint64
	State      SessionState
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{Voter:%d Token:%s Counter:%d State:%s}",
		s.VoterID, s.Token, s.Counter, s.State)
}
