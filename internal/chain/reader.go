package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/minerstake/internal/config"
)

// BatchCaller sends JSON-RPC batches. *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Reader executes contract reads as JSON-RPC eth_call batches.
type Reader struct {
	caller    BatchCaller
	rl        *RateLimiter
	cb        *CircuitBreaker
	batchSize int
}

// NewReader creates a Reader. rl and cb may be nil.
func NewReader(caller BatchCaller, rl *RateLimiter, cb *CircuitBreaker, batchSize int) *Reader {
	if batchSize < 1 || batchSize > config.MaxBatchSize {
		batchSize = config.MaxBatchSize
	}
	return &Reader{
		caller:    caller,
		rl:        rl,
		cb:        cb,
		batchSize: batchSize,
	}
}

// CallArgs is the eth_call transaction object.
type CallArgs struct {
	To   string        `json:"to"`
	Data hexutil.Bytes `json:"data"`
}

// ReadBatch executes calls and returns one Result per call, in order.
// Individual failures never abort the batch; a transport failure marks every
// call of its chunk failed. Chunks run concurrently up to BatchConcurrency.
func (r *Reader) ReadBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	payloads := make([][]byte, len(calls))
	for i, c := range calls {
		data, err := c.Pack()
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		payloads[i] = data
	}

	var g errgroup.Group
	g.SetLimit(config.BatchConcurrency)

	for start := 0; start < len(calls); start += r.batchSize {
		end := min(start+r.batchSize, len(calls))
		g.Go(func() error {
			r.readChunk(ctx, calls, payloads, results, start, end)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, res := range results {
		if !res.OK {
			failed++
		}
	}
	slog.Debug("rpc batch read complete",
		"calls", len(calls),
		"failed", failed,
	)

	return results
}

func (r *Reader) readChunk(ctx context.Context, calls []Call, payloads [][]byte, results []Result, start, end int) {
	idx := make([]int, 0, end-start)
	outs := make([]*hexutil.Bytes, 0, end-start)
	elems := make([]rpc.BatchElem, 0, end-start)

	for i := start; i < end; i++ {
		if results[i].Err != nil {
			continue
		}
		out := new(hexutil.Bytes)
		idx = append(idx, i)
		outs = append(outs, out)
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{CallArgs{To: calls[i].To.Hex(), Data: payloads[i]}, "latest"},
			Result: out,
		})
	}
	if len(elems) == 0 {
		return
	}

	fail := func(err error) {
		for _, i := range idx {
			results[i] = Result{Err: err}
		}
	}

	if r.cb != nil && !r.cb.Allow() {
		fail(config.ErrCircuitOpen)
		return
	}
	if r.rl != nil {
		if err := r.rl.Wait(ctx); err != nil {
			fail(fmt.Errorf("rate limiter wait: %w", err))
			return
		}
	}

	if err := r.caller.BatchCallContext(ctx, elems); err != nil {
		if r.cb != nil {
			r.cb.RecordFailure()
		}
		slog.Warn("rpc batch transport error",
			"chunkStart", start,
			"chunkSize", len(elems),
			"error", err,
		)
		fail(config.NewTransientError(fmt.Errorf("%w: %v", config.ErrProviderUnavailable, err)))
		return
	}
	if r.cb != nil {
		r.cb.RecordSuccess()
	}

	for k, i := range idx {
		if elems[k].Error != nil {
			results[i] = Result{Err: fmt.Errorf("%s: %w", calls[i].Method, elems[k].Error)}
			continue
		}
		values, err := calls[i].Unpack(*outs[k])
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		results[i] = Result{OK: true, Values: values}
	}
}
