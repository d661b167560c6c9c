package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/equiclimate/enrich-cli/internal/store"
)

// RegionResult is the single-region contract response.
type RegionResult struct {
	Success       bool              `json:"success"`
	RegionCode    string            `json:"region_code"`
	FieldsUpdated []string          `json:"fields_updated,omitempty"`
	Sources       map[string]string `json:"sources,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// EnrichOne runs the full state machine for a single region regardless of
// its backoff window; re-running an already-enriched region just refreshes
// it from the providers.
func (w *Worker) EnrichOne(ctx context.Context, code string, year int) (RegionResult, error) {
	rec, err := w.store.GetRegion(ctx, code, year)
	if errors.Is(err, store.ErrNotFound) {
		return RegionResult{
			RegionCode: code,
			Message:    fmt.Sprintf("region %s/%d not found", code, year),
		}, nil
	}
	if err != nil {
		return RegionResult{RegionCode: code}, eris.Wrapf(err, "enrich: load %s", code)
	}

	res, err := w.ProcessRegion(ctx, rec)
	if err != nil {
		return RegionResult{RegionCode: code}, err
	}

	return RegionResult{
		Success:       res.Outcome == OutcomeEnriched,
		RegionCode:    res.RegionCode,
		FieldsUpdated: res.FieldsUpdated,
		Sources:       res.Sources,
		Message:       res.Message,
	}, nil
}
