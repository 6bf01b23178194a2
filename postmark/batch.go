package postmark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/shineum/postmark-lite/email"
)

// MaxBatchSize is the most messages Postmark accepts in one batch request.
const MaxBatchSize = 500

// Batch is a chunk of messages sent in one request.
type Batch []*email.OutboundBody

// Partition splits bodies into contiguous batches of at most maxSize,
// preserving order. maxSize outside (0, MaxBatchSize] is treated as
// MaxBatchSize. Batches share the input's backing array.
func Partition(bodies []*email.OutboundBody, maxSize int) []Batch {
	if len(bodies) == 0 {
		return nil
	}
	if maxSize <= 0 || maxSize > MaxBatchSize {
		maxSize = MaxBatchSize
	}

	batches := make([]Batch, 0, (len(bodies)+maxSize-1)/maxSize)
	for start := 0; start < len(bodies); start += maxSize {
		end := min(start+maxSize, len(bodies))
		batches = append(batches, Batch(bodies[start:end:end]))
	}
	return batches
}

// BatchResult is the outcome for one message of a batch.
type BatchResult struct {
	Receipt *SendReceipt
	Err     error
}

// BatchResults holds one result per input message, in input order.
type BatchResults []BatchResult

// Err combines every per-message error, or returns nil if all succeeded.
func (r BatchResults) Err() error {
	var err error
	for i, res := range r {
		if res.Err != nil {
			err = multierr.Append(err, fmt.Errorf("message[%d]: %w", i, res.Err))
		}
	}
	return err
}

// Succeeded counts messages Postmark accepted.
func (r BatchResults) Succeeded() int {
	var n int
	for _, res := range r {
		if res.Err == nil && res.Receipt != nil {
			n++
		}
	}
	return n
}

// Failed counts messages that were not accepted.
func (r BatchResults) Failed() int {
	return len(r) - r.Succeeded()
}

// SendBatch delivers bodies in chunks of MaxBatchSize, posting up to the
// client's concurrency chunks at once. The result for bodies[i] is at
// index i. Invalid messages fail individually without affecting the rest of
// their chunk. The returned error is non-nil only when ctx ended before every
// chunk finished; results are complete either way.
func (c *Client) SendBatch(ctx context.Context, bodies []*email.OutboundBody) (BatchResults, error) {
	results := make(BatchResults, len(bodies))
	if len(bodies) == 0 {
		return results, nil
	}

	log := c.logger.With("batch_id", uuid.NewString())
	batches := Partition(bodies, MaxBatchSize)
	log.Debug("sending batch", "messages", len(bodies), "chunks", len(batches))

	sem := semaphore.NewWeighted(int64(c.concurrency))
	var wg sync.WaitGroup

	offset := 0
	for i, batch := range batches {
		out := results[offset : offset+len(batch)]
		offset += len(batch)

		if err := sem.Acquire(ctx, 1); err != nil {
			failAll(results[offset-len(batch):], contextError(err, 0))
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			c.sendChunk(ctx, log.With("chunk", i), batch, out)
		}()
	}
	wg.Wait()

	log.Debug("batch finished", "succeeded", results.Succeeded(), "failed", results.Failed())

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("batch interrupted: %w", err)
	}
	return results, nil
}

// sendChunk posts one batch and writes into out, which is len(batch) long
// and owned by the caller's goroutine alone.
func (c *Client) sendChunk(ctx context.Context, log *slog.Logger, batch Batch, out BatchResults) {
	reqs := make([]sendEmailRequest, 0, len(batch))
	positions := make([]int, 0, len(batch))
	for i, body := range batch {
		if err := checkBody(body); err != nil {
			out[i].Err = err
			continue
		}
		reqs = append(reqs, newSendEmailRequest(body, c.sender))
		positions = append(positions, i)
	}
	if len(reqs) == 0 {
		return
	}

	payload, err := json.Marshal(reqs)
	if err != nil {
		failAt(out, positions, fmt.Errorf("failed to marshal request body: %w", err))
		return
	}

	var resp []sendEmailResponse
	status, attempts, err := c.post(ctx, log, c.batchURL, payload, &resp)
	if err != nil {
		log.Warn("batch chunk failed", "messages", len(reqs), "error", err)
		failAt(out, positions, err)
		return
	}

	if len(resp) != len(reqs) {
		failAt(out, positions, &SendError{
			Kind:       KindAPI,
			StatusCode: status,
			Message:    fmt.Sprintf("expected %d results, got %d", len(reqs), len(resp)),
			Attempts:   attempts,
			Err:        ErrUnexpectedResponse,
		})
		return
	}

	for j, r := range resp {
		i := positions[j]
		out[i].Receipt, out[i].Err = r.result(status, attempts)
	}
}

func failAt(out BatchResults, positions []int, err error) {
	for _, i := range positions {
		out[i].Err = err
	}
}

func failAll(out BatchResults, err error) {
	for i := range out {
		out[i].Err = err
	}
}
