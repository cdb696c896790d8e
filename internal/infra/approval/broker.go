package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
)

const defaultRequestBuffer = 16

// Broker parks gated tool calls until a verdict is delivered through Decide.
type Broker struct {
	logger  *zap.Logger
	metrics domain.Metrics

	mu      sync.Mutex
	pending map[string]*pendingCall
	subs    map[chan domain.ApprovalRequest]struct{}
}

type pendingCall struct {
	req     domain.ApprovalRequest
	since   time.Time
	verdict chan domain.ApprovalVerdict
}

func NewBroker(logger *zap.Logger, metrics domain.Metrics) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		logger:  logger.Named("approval"),
		metrics: metrics,
		pending: make(map[string]*pendingCall),
		subs:    make(map[chan domain.ApprovalRequest]struct{}),
	}
}

// Await blocks until Decide is called for req.CallID or ctx is done.
func (b *Broker) Await(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalVerdict, error) {
	if req.CallID == "" {
		return "", domain.E(domain.CodeInvalidArgument, "approval.await", "call id is required", nil)
	}
	call := &pendingCall{
		req:     req,
		since:   time.Now(),
		verdict: make(chan domain.ApprovalVerdict, 1),
	}

	b.mu.Lock()
	if _, exists := b.pending[req.CallID]; exists {
		b.mu.Unlock()
		return "", domain.E(domain.CodeFailedPrecond, "approval.await", fmt.Sprintf("call %q is already awaiting approval", req.CallID), nil)
	}
	b.pending[req.CallID] = call
	for ch := range b.subs {
		select {
		case ch <- req:
		default:
			b.logger.Warn("approval subscriber is full, request only listed in Pending", zap.String("callId", req.CallID))
		}
	}
	b.mu.Unlock()

	b.logger.Info("tool call awaiting approval",
		zap.String("callId", req.CallID),
		zap.String("server", req.ServerID),
		zap.String("tool", req.ToolName),
	)

	select {
	case verdict := <-call.verdict:
		b.observe(verdict, call.since)
		return verdict, nil
	case <-ctx.Done():
		b.mu.Lock()
		if b.pending[req.CallID] == call {
			delete(b.pending, req.CallID)
		}
		b.mu.Unlock()
		return "", domain.Wrap(domain.CodeCanceled, "approval.await", ctx.Err())
	}
}

// Decide delivers a verdict for a pending call.
func (b *Broker) Decide(callID string, verdict domain.ApprovalVerdict) error {
	if verdict != domain.VerdictApprove && verdict != domain.VerdictDeny {
		return domain.E(domain.CodeInvalidArgument, "approval.decide", fmt.Sprintf("unknown verdict %q", verdict), nil)
	}
	b.mu.Lock()
	call, ok := b.pending[callID]
	if ok {
		delete(b.pending, callID)
	}
	b.mu.Unlock()
	if !ok {
		return domain.E(domain.CodeNotFound, "approval.decide", fmt.Sprintf("call %q", callID), domain.ErrApprovalNotPending)
	}
	call.verdict <- verdict
	b.logger.Info("approval decided", zap.String("callId", callID), zap.String("verdict", string(verdict)))
	return nil
}

// Pending lists the calls waiting for a verdict, oldest first.
func (b *Broker) Pending() []domain.ApprovalRequest {
	b.mu.Lock()
	calls := make([]*pendingCall, 0, len(b.pending))
	for _, call := range b.pending {
		calls = append(calls, call)
	}
	b.mu.Unlock()

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].since.Before(calls[j].since)
	})
	out := make([]domain.ApprovalRequest, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.req)
	}
	return out
}

// Requests streams approval requests until ctx is done, starting with the
// calls already pending. A subscriber that falls more than the buffer behind
// misses requests; those calls stay parked until their deadline, so callers
// that can lag must poll Pending to catch them.
func (b *Broker) Requests(ctx context.Context) <-chan domain.ApprovalRequest {
	ch := make(chan domain.ApprovalRequest, defaultRequestBuffer)
	backlog := b.Pending()
	b.mu.Lock()
	for _, req := range backlog {
		if len(ch) == cap(ch) {
			break
		}
		if _, still := b.pending[req.CallID]; still {
			ch <- req
		}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func (b *Broker) observe(verdict domain.ApprovalVerdict, since time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.ObserveApprovalWait(verdict, time.Since(since))
}

var _ domain.Approver = (*Broker)(nil)
