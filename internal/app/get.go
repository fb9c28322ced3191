package app

import (
	"context"
	"encoding/json"

	"finpath-insight/internal/market"
)

// Get serves one request through the orchestrator and prints the response
// as JSON.
func (a *App) Get(ctx context.Context, opts GetOptions) error {
	dt, err := market.ParseDataType(opts.DataType)
	if err != nil {
		return err
	}
	tier, err := market.ParseTier(opts.Tier)
	if err != nil {
		return err
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	resp, err := rt.service.Handle(ctx, market.Request{
		DataType: dt,
		Key:      opts.Key,
		Identity: opts.Identity,
		Tier:     tier,
		Params:   market.Params{Period: opts.Period, Limit: opts.Limit},
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
