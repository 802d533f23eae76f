package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DryRun fabricates gateway responses so the pipeline can run end to end
// without a broker connection.
type DryRun struct{}

func (DryRun) SearchInstrument(ctx context.Context, query string) ([]Instrument, error) {
	return []Instrument{{
		ID:       "dry-" + query,
		Symbol:   query,
		Name:     query + " (dry run)",
		TickSize: decimal.NewFromFloat(0.25),
	}}, nil
}

func (DryRun) PlaceOrder(ctx context.Context, spec OrderSpec) (PlaceResult, error) {
	return PlaceResult{OrderID: "dry-" + uuid.NewString()}, nil
}
