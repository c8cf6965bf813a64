package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperBroker is an in-memory broker used by tests and dry runs. It accepts
// every order unless a scripted failure matches the request tag or symbol.
type PaperBroker struct {
	mu        sync.Mutex
	seq       int
	placed    []OrderRequest
	cancelled []string
	failNext  int
	failTags  map[string]error
	clock     func() time.Time
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		failTags: make(map[string]error),
		clock:    time.Now,
	}
}

// FailNext makes the next n PlaceOrder calls return an error.
func (b *PaperBroker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// FailTag makes every PlaceOrder whose request tag equals tag return err.
func (b *PaperBroker) FailTag(tag string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTags[tag] = err
}

func (b *PaperBroker) PlaceOrder(_ context.Context, req OrderRequest) (*OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failNext > 0 {
		b.failNext--
		return nil, fmt.Errorf("paper broker: scripted rejection for %s", req.Symbol)
	}
	if err, ok := b.failTags[req.Tag]; ok {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper broker: invalid quantity %d", req.Quantity)
	}

	b.seq++
	b.placed = append(b.placed, req)
	return &OrderAck{
		BrokerOrderID: fmt.Sprintf("PAPER-%06d", b.seq),
		PlacedAt:      b.clock(),
	}, nil
}

func (b *PaperBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, brokerOrderID)
	return nil
}

// Placed returns a copy of all accepted requests in submission order.
func (b *PaperBroker) Placed() []OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OrderRequest, len(b.placed))
	copy(out, b.placed)
	return out
}

// Cancelled returns the broker order ids cancelled so far.
func (b *PaperBroker) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.cancelled))
	copy(out, b.cancelled)
	return out
}
