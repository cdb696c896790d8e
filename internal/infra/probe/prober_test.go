package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

type fakePinger struct {
	pingFunc func(ctx context.Context, server domain.ToolServer) error
}

func (f *fakePinger) Ping(ctx context.Context, server domain.ToolServer) error {
	return f.pingFunc(ctx, server)
}

type fakeServers struct {
	mu       sync.Mutex
	servers  []domain.ToolServer
	statuses map[string]domain.ServerStatus
	errors   map[string]string
}

func newFakeServers(ids ...string) *fakeServers {
	f := &fakeServers{statuses: map[string]domain.ServerStatus{}, errors: map[string]string{}}
	for _, id := range ids {
		f.servers = append(f.servers, domain.ToolServer{ID: id, Endpoint: "https://" + id + ".example", Enabled: true})
	}
	return f
}

func (f *fakeServers) ListEnabled() []domain.ToolServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ToolServer(nil), f.servers...)
}

func (f *fakeServers) ReportStatus(id string, status domain.ServerStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	f.errors[id] = lastError
	return nil
}

func (f *fakeServers) status(id string) domain.ServerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func TestProber_ProbeOnceReportsStatus(t *testing.T) {
	servers := newFakeServers("ok", "down")
	prober := New(Options{
		Servers: servers,
		Pinger: &fakePinger{pingFunc: func(_ context.Context, server domain.ToolServer) error {
			if server.ID == "down" {
				return errors.New("connection refused")
			}
			return nil
		}},
	})

	results := prober.ProbeOnce(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0].ServerID)
	assert.Equal(t, domain.ServerStatusConnected, results[0].Status)
	assert.Equal(t, domain.ServerStatusError, results[1].Status)

	assert.Equal(t, domain.ServerStatusConnected, servers.status("ok"))
	assert.Equal(t, domain.ServerStatusError, servers.status("down"))
	assert.Equal(t, "connection refused", servers.errors["down"])
}

func TestProber_TimeoutMarksError(t *testing.T) {
	servers := newFakeServers("slow")
	prober := New(Options{
		Servers: servers,
		Timeout: 20 * time.Millisecond,
		Pinger: &fakePinger{pingFunc: func(ctx context.Context, _ domain.ToolServer) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})

	results := prober.ProbeOnce(context.Background())
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	require.Equal(t, domain.ServerStatusError, servers.status("slow"))
}

func TestProber_RunBeatsUntilCancelled(t *testing.T) {
	tracker := telemetry.NewHealthTracker()
	beat := tracker.Register("prober", time.Second)
	servers := newFakeServers("a")
	prober := New(Options{
		Servers:   servers,
		Interval:  10 * time.Millisecond,
		Heartbeat: beat,
		Pinger:    &fakePinger{pingFunc: func(context.Context, domain.ToolServer) error { return nil }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- prober.Run(ctx) }()

	require.Eventually(t, func() bool {
		return tracker.Report().Status == telemetry.HealthStatusOK
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}
