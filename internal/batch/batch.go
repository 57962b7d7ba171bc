// Package batch splits token lists into provider-sized chunks, runs the chunk
// calls concurrently and stitches per-token outcomes back into input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"golang.org/x/sync/errgroup"
)

// Call performs one provider request for a chunk of tokens. It must return one
// outcome per token, index-aligned with the chunk.
type Call func(ctx context.Context, tokens []string) ([]push.Outcome, error)

// Result is the stitched result of a chunked run.
type Result struct {
	// Outcomes has one entry per input token, in input order.
	Outcomes []push.Outcome
	// Calls is the number of chunks issued.
	Calls int
	// FailedCalls is the number of chunks the provider rejected outright.
	FailedCalls int
	// Err joins the errors of the rejected chunks.
	Err error
}

// AllFailed reports whether every chunk was rejected.
func (r Result) AllFailed() bool {
	return r.Calls > 0 && r.FailedCalls == r.Calls
}

// Split cuts tokens into consecutive chunks of at most size entries.
func Split(tokens []string, size int) [][]string {
	if size <= 0 {
		size = len(tokens)
	}
	var chunks [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}

// Run issues call for each chunk of at most size tokens with up to
// concurrency chunks in flight. A rejected chunk does not stop the others; its
// tokens receive ReasonProviderError outcomes.
func Run(ctx context.Context, tokens []string, size, concurrency int, call Call) Result {
	chunks := Split(tokens, size)
	res := Result{
		Outcomes: make([]push.Outcome, len(tokens)),
		Calls:    len(chunks),
	}
	if len(chunks) == 0 {
		return res
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	offset := 0
	for _, chunk := range chunks {
		chunk, base := chunk, offset
		offset += len(chunk)

		g.Go(func() error {
			outcomes, err := call(gctx, chunk)
			if err == nil && len(outcomes) != len(chunk) {
				err = fmt.Errorf("%w: provider returned %d outcomes for %d tokens", push.ErrProviderCall, len(outcomes), len(chunk))
			}
			if err != nil {
				for i, tok := range chunk {
					res.Outcomes[base+i] = push.Outcome{Token: tok, Reason: push.ReasonProviderError, Detail: err.Error()}
				}
				mu.Lock()
				errs = append(errs, err)
				res.FailedCalls++
				mu.Unlock()
				return nil
			}
			for i, o := range outcomes {
				o.Token = chunk[i]
				res.Outcomes[base+i] = o
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Err = errors.Join(errs...)
	return res
}
