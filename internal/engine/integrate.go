package engine

import (
	"context"

	"github.com/lazypower/metacog/internal/store"
)

// IntegrateResult combines the results of each pipeline stage.
type IntegrateResult struct {
	Decay   DecayResult
	Extract ExtractResult
	Reweave ReweaveResult
}

// Integrate runs the periodic pipeline over st: decay, extraction from the
// note files (followed by eviction), then reweave. Notes are read before
// anything is mutated, so an unreadable note leaves st untouched. The caller
// compiles the lens and saves the store once afterwards.
func (e *Engine) Integrate(ctx context.Context, st *store.Store, paths ...string) (IntegrateResult, error) {
	notes, err := ReadNotes(paths)
	if err != nil {
		return IntegrateResult{}, err
	}

	var res IntegrateResult
	res.Decay = e.Decay(st)
	res.Extract = e.Ingest(ctx, st, notes...)
	res.Reweave = e.Reweave(ctx, st)
	return res, nil
}
