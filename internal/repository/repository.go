package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autopilot/internal/models"
)

// Repository is the persistence surface of the autopilot pipeline. Proposal
// status writes go through UpdateProposalStatusCAS so that concurrent
// transitions resolve deterministically with exactly one winner.
type Repository interface {
	// Proposals
	InsertProposal(ctx context.Context, item *models.Proposal) error
	GetProposalByID(ctx context.Context, id uint64) (*models.Proposal, error)
	GetProposalForUser(ctx context.Context, id uint64, userID string) (*models.Proposal, error)
	ListProposals(ctx context.Context, params ListProposalsParams) ([]models.Proposal, error)
	CountProposals(ctx context.Context, params ListProposalsParams) (int64, error)
	// UpdateProposalStatusCAS transitions id from `from` to `to` and applies
	// extra column updates in the same conditional write. Returns false when
	// the row was not in `from` anymore (a concurrent transition won).
	UpdateProposalStatusCAS(ctx context.Context, id uint64, from, to models.ProposalStatus, updates map[string]any) (bool, error)
	// ExpireDueProposals moves every pending proposal whose expiry is before
	// now to expired. Idempotent; returns the number of rows transitioned.
	ExpireDueProposals(ctx context.Context, now time.Time) (int64, error)
	// FailAbandonedExecuting moves every executing proposal whose last update
	// is before cutoff to failed. Recovers claims orphaned by a process that
	// died between claiming and the terminal write.
	FailAbandonedExecuting(ctx context.Context, cutoff time.Time) (int64, error)

	// Executions
	InsertExecution(ctx context.Context, item *models.Execution) error
	ListExecutionsByProposalID(ctx context.Context, proposalID uint64) ([]models.Execution, error)

	// Audit trail
	InsertProposalEvent(ctx context.Context, item *models.ProposalEvent) error
	ListProposalEvents(ctx context.Context, proposalID uint64) ([]models.ProposalEvent, error)

	// Blind spots
	InsertBlindSpot(ctx context.Context, item *models.BlindSpot) error
	GetBlindSpotByID(ctx context.Context, id uint64) (*models.BlindSpot, error)
	ListBlindSpots(ctx context.Context, params ListBlindSpotsParams) ([]models.BlindSpot, error)
	// ListTriggeredBlindSpots returns active blind spots whose trigger window
	// covers now.
	ListTriggeredBlindSpots(ctx context.Context, userID string, now time.Time) ([]models.BlindSpot, error)
	SetBlindSpotActive(ctx context.Context, id uint64, active bool) error
	SetBlindSpotTriggeredUntil(ctx context.Context, id uint64, until *time.Time) error
	// DeleteBlindSpot never matches guard-railed rows; returns whether a row
	// was deleted.
	DeleteBlindSpot(ctx context.Context, id uint64) (bool, error)

	// Settings
	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	UpsertUserSettings(ctx context.Context, item *models.UserSettings) error

	// Trade ledger
	InsertTradeRecord(ctx context.Context, item *models.TradeRecord) error
	// SumRealizedLossSince returns the absolute sum of negative realized P&L
	// on autopilot trades closed at or after since.
	SumRealizedLossSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	CountOpenPositions(ctx context.Context, userID string) (int64, error)

	// Anti-lag events
	UpsertAntiLagEvent(ctx context.Context, item *models.AntiLagEvent) error
	// GetActiveAntiLagEvent returns the most recent event for the pair
	// detected at or after cutoff, or nil.
	GetActiveAntiLagEvent(ctx context.Context, primary, correlated string, cutoff time.Time) (*models.AntiLagEvent, error)
	ListAntiLagEvents(ctx context.Context, params ListAntiLagEventsParams) ([]models.AntiLagEvent, error)
	DeleteStaleAntiLagEvents(ctx context.Context, before time.Time) (int64, error)
}

type ListProposalsParams struct {
	Limit    int
	Offset   int
	UserID   *string
	Status   *models.ProposalStatus
	Strategy *string
	OrderBy  string
	Asc      *bool
}

type ListBlindSpotsParams struct {
	Limit      int
	Offset     int
	UserID     *string
	Category   *models.BlindSpotCategory
	ActiveOnly bool
}

type ListAntiLagEventsParams struct {
	Limit            int
	Offset           int
	PrimarySymbol    *string
	CorrelatedSymbol *string
	Since            *time.Time
}
