package plan

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
)

// Querier is the store slice plan listing needs.
type Querier interface {
	ListActivePlans(ctx context.Context) ([]db.Plan, error)
}

// Handlers serves the public plan catalogue.
type Handlers struct {
	Store  Querier
	Logger zerolog.Logger
}

type planView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"priceCents"`
	DurationDays int32     `json:"durationDays"`
	CreatedAt    time.Time `json:"createdAt"`
}

// List handles GET /api/v1/plans.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListActivePlans(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("plan list failed")
		common.RenderError(w, err)
		return
	}

	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{
			ID:           db.UUIDString(p.ID),
			Name:         p.Name,
			PriceCents:   p.PriceCents,
			DurationDays: p.DurationDays,
			CreatedAt:    p.CreatedAt.Time,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"plans": views})
}
