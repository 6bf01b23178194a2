package postmark

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/postmark-lite/email"
)

func makeBodies(t *testing.T, n int) []*email.OutboundBody {
	t.Helper()
	bodies := make([]*email.OutboundBody, n)
	for i := range bodies {
		bodies[i] = testBody(t, fmt.Sprintf("user%d@example.com", i))
	}
	return bodies
}

// batchServer echoes each batch element back as an accepted message whose
// MessageID is the recipient, and records the size of every request.
type batchServer struct {
	*httptest.Server
	mu    sync.Mutex
	sizes []int
}

func newBatchServer(t *testing.T) *batchServer {
	t.Helper()
	s := &batchServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/email/batch" {
			t.Errorf("path: got %q, want %q", r.URL.Path, "/email/batch")
		}

		var reqs []map[string]any
		data, _ := io.ReadAll(r.Body)
		if err := stdjson.Unmarshal(data, &reqs); err != nil {
			t.Errorf("batch body is not a JSON array: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.sizes = append(s.sizes, len(reqs))
		s.mu.Unlock()

		resp := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			resp[i] = map[string]any{
				"To":        req["To"],
				"MessageID": req["To"],
				"ErrorCode": 0,
				"Message":   "OK",
			}
		}
		_ = stdjson.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *batchServer) Sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := append([]int(nil), s.sizes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

func TestPartition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int
		maxSize int
		want    []int
	}{
		{"empty", 0, 500, nil},
		{"single", 1, 500, []int{1}},
		{"exactly full", 500, 500, []int{500}},
		{"one over", 501, 500, []int{500, 1}},
		{"several", 1200, 500, []int{500, 500, 200}},
		{"small chunks", 7, 3, []int{3, 3, 1}},
		{"zero size clamps", 501, 0, []int{500, 1}},
		{"negative size clamps", 10, -1, []int{10}},
		{"oversized clamps", 1001, 1000, []int{500, 500, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bodies := make([]*email.OutboundBody, tt.n)
			for i := range bodies {
				bodies[i] = &email.OutboundBody{}
			}

			batches := Partition(bodies, tt.maxSize)
			if tt.want == nil {
				assert.Empty(t, batches)
				return
			}

			var sizes []int
			var joined []*email.OutboundBody
			for _, b := range batches {
				sizes = append(sizes, len(b))
				assert.LessOrEqual(t, len(b), MaxBatchSize)
				joined = append(joined, b...)
			}
			assert.Equal(t, tt.want, sizes)
			require.Len(t, joined, len(bodies))
			for i := range bodies {
				assert.Same(t, bodies[i], joined[i], "order broken at %d", i)
			}
		})
	}
}

func TestPartition_CapacityClipped(t *testing.T) {
	t.Parallel()

	bodies := make([]*email.OutboundBody, 4)
	for i := range bodies {
		bodies[i] = &email.OutboundBody{}
	}
	second := bodies[2]

	batches := Partition(bodies, 2)
	require.Len(t, batches, 2)
	_ = append(batches[0], &email.OutboundBody{})

	assert.Same(t, second, bodies[2], "appending to a batch must not overwrite the next one")
	assert.Equal(t, 2, cap(batches[0]))
}

func TestSendBatch_SplitsAndPreservesOrder(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))

	bodies := makeBodies(t, 600)
	results, err := c.SendBatch(context.Background(), bodies)
	require.NoError(t, err)

	assert.Equal(t, []int{500, 100}, server.Sizes())
	require.Len(t, results, 600)
	for i, res := range results {
		require.NoError(t, res.Err, "result %d", i)
		assert.Equal(t, fmt.Sprintf("user%d@example.com", i), res.Receipt.MessageID)
	}
	assert.Equal(t, 600, results.Succeeded())
	assert.Equal(t, 0, results.Failed())
	assert.NoError(t, results.Err())
}

func TestSendBatch_Concurrent(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c, err := newTestBuilder(t, server.URL, testPolicy(0, &sleepRecorder{})).
		Concurrency(3).
		Build()
	require.NoError(t, err)

	bodies := makeBodies(t, 1250)
	results, err := c.SendBatch(context.Background(), bodies)
	require.NoError(t, err)

	assert.Equal(t, []int{500, 500, 250}, server.Sizes())
	require.Len(t, results, 1250)
	for i, res := range results {
		require.NoError(t, res.Err, "result %d", i)
		assert.Equal(t, fmt.Sprintf("user%d@example.com", i), res.Receipt.To)
	}
}

func TestSendBatch_PerMessageErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"To":"user0@example.com","MessageID":"m0","ErrorCode":0,"Message":"OK"},
			{"ErrorCode":406,"Message":"Inactive recipient"},
			{"To":"user2@example.com","MessageID":"m2","ErrorCode":0,"Message":"OK"}
		]`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))
	results, err := c.SendBatch(context.Background(), makeBodies(t, 3))
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)

	var sErr *SendError
	require.True(t, errors.As(results[1].Err, &sErr))
	assert.Equal(t, KindAPI, sErr.Kind)
	assert.Equal(t, 406, sErr.ErrorCode)

	assert.Equal(t, 2, results.Succeeded())
	assert.Equal(t, 1, results.Failed())
	require.Error(t, results.Err())
	assert.Contains(t, results.Err().Error(), "message[1]")
}

func TestSendBatch_InvalidBodyExcluded(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))

	bodies := makeBodies(t, 3)
	bodies[1] = nil

	results, err := c.SendBatch(context.Background(), bodies)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, server.Sizes())
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "user2@example.com", results[2].Receipt.To)

	var vErr *email.ValidationError
	assert.True(t, errors.As(results[1].Err, &vErr))
	assert.Nil(t, results[1].Receipt)
}

func TestSendBatch_AllInvalid(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))

	results, err := c.SendBatch(context.Background(), []*email.OutboundBody{nil, nil})
	require.NoError(t, err)

	assert.Empty(t, server.Sizes())
	assert.Equal(t, 2, results.Failed())
}

func TestSendBatch_ChunkFailureCopiedToEveryMessage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ErrorCode":10,"Message":"Bad or missing API token"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, testPolicy(3, &sleepRecorder{}))
	results, err := c.SendBatch(context.Background(), makeBodies(t, 4))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	for i, res := range results {
		var sErr *SendError
		require.True(t, errors.As(res.Err, &sErr), "result %d", i)
		assert.True(t, sErr.IsUnauthorized())
	}
	assert.Equal(t, 4, results.Failed())
}

func TestSendBatch_LengthMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"To":"user0@example.com","MessageID":"m0","ErrorCode":0}]`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))
	results, err := c.SendBatch(context.Background(), makeBodies(t, 2))
	require.NoError(t, err)

	for i, res := range results {
		assert.True(t, errors.Is(res.Err, ErrUnexpectedResponse), "result %d: %v", i, res.Err)
	}
}

func TestSendBatch_Empty(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))

	results, err := c.SendBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, server.Sizes())
	assert.NoError(t, results.Err())
}

func TestSendBatch_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := newBatchServer(t)
	c := newTestClient(t, server.URL, testPolicy(0, &sleepRecorder{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := c.SendBatch(ctx, makeBodies(t, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, errors.Is(res.Err, context.Canceled))
	}
	assert.Empty(t, server.Sizes())
}
