package diff

import (
	"context"

	"github.com/hazyhaar/visreg/artifact"
)

// BatchCompare diffs every comparison against one baseline. The baseline is
// decoded once and only read. Results match comparisons in order; once ctx
// is done, the remaining comparisons are skipped with PROCESSING_ERROR.
func (e *Engine) BatchCompare(ctx context.Context, baseline *artifact.Screenshot, comparisons []*artifact.Screenshot, opts *Options) []artifact.DiffResult {
	results := make([]artifact.DiffResult, len(comparisons))
	fail := func(aerr *artifact.Error) []artifact.DiffResult {
		for i := range results {
			results[i] = artifact.DiffFailed(aerr)
		}
		return results
	}

	o, aerr := e.resolve(opts)
	if aerr != nil {
		return fail(aerr)
	}
	if baseline == nil {
		return fail(artifact.NewError(artifact.CodeProcessing, "baseline is required"))
	}
	base, aerr := e.decode("baseline", baseline)
	if aerr != nil {
		return fail(aerr)
	}

	for i, c := range comparisons {
		if err := ctx.Err(); err != nil {
			results[i] = artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing, "comparison skipped: %v", err).
				WithDetail("skipped", true))
			continue
		}
		if c == nil {
			results[i] = artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing, "comparison %d is nil", i))
			continue
		}
		results[i] = e.compareDecoded(baseline, base, c, o)
	}
	return results
}
