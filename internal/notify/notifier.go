// Package notify publishes pipeline lifecycle events to an external sink.
// Emission is fire-and-forget: a sink failure is logged and never surfaces to
// the pipeline.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline.
const (
	EventProposalCreated  = "proposal.created"
	EventProposalApproved = "proposal.approved"
	EventProposalRejected = "proposal.rejected"
	EventProposalExpired  = "proposal.expired"
	EventProposalExecuted = "proposal.executed"
	EventProposalFailed   = "proposal.failed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	ProposalID uint64         `json:"proposal_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	At         time.Time      `json:"at"`
}

// NewEvent stamps an id and timestamp.
func NewEvent(eventType, userID string, proposalID uint64, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		ProposalID: proposalID,
		Payload:    payload,
		At:         time.Now().UTC(),
	}
}

type Notifier interface {
	Emit(ctx context.Context, ev Event)
}

// Nop discards every event. Used when notifications are disabled.
type Nop struct{}

func (Nop) Emit(ctx context.Context, ev Event) {}
