package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/consumer"
	"github.com/jmehdipour/commerce-sync/internal/kafka"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (s *chanSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, m.Offset)
	return nil
}

func (s *chanSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type recordingHandler struct {
	mu       sync.Mutex
	seen     []string
	failures map[string]int
}

func (h *recordingHandler) Handle(_ context.Context, env model.Envelope) (consumer.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if env.EventType == "poison" {
		return "", consumer.ErrMalformedEvent
	}
	if h.failures[env.EventID] > 0 {
		h.failures[env.EventID]--
		return "", errors.New("db unavailable")
	}
	h.seen = append(h.seen, env.EventID)
	return consumer.Applied, nil
}

func msg(t *testing.T, offset int64, id, typ string) kafka.Message {
	t.Helper()
	v, err := json.Marshal(model.Envelope{EventID: id, EventType: typ})
	require.NoError(t, err)
	return kafka.Message{Partition: 0, Offset: offset, Value: v}
}

func TestMetricsConsumer_OrderedCommitsAndSkips(t *testing.T) {
	src := &chanSource{in: make(chan kafka.Message, 10)}
	h := &recordingHandler{failures: map[string]int{"b": 2}}
	w := NewMetricsConsumer(src, h, 4, nil)
	w.MaxBackoff = time.Millisecond

	src.in <- msg(t, 1, "a", model.EventProductViewed)
	src.in <- kafka.Message{Partition: 0, Offset: 2, Value: []byte("{not json")}
	src.in <- msg(t, 3, "b", model.EventProductViewed)
	src.in <- msg(t, 4, "p", "poison")
	src.in <- msg(t, 5, "c", model.EventProductViewed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.commits()) == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, src.commits())
	assert.Equal(t, []string{"a", "b", "c"}, h.seen)
}
