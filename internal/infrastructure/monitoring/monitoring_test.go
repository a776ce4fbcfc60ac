package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/repositories/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RoomCreated()
	c.RoomCreated()
	c.RoomCreated()
	c.RoomsClosed(1)
	c.RoomsExpired(1)
	c.SignalRelayed(domain.TypeOffer)
	c.SignalRelayed(domain.TypeOffer)
	c.SignalingError(domain.CodeRoomFull)
	c.PollRequest("get-offer")
	c.ParticipantConnected()
	c.ParticipantConnected()
	c.ParticipantDisconnected()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.roomsCreatedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roomsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roomsClosedTotal.WithLabelValues("expired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.signalsRelayed.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalingErrors.WithLabelValues("RoomFull")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollRequests.WithLabelValues("get-offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.participantsActive))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	// registering twice on one registry panics; separate registries must not
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Second, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(ctx context.Context) error {
		return errors.New("down")
	}, time.Second, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "down", status.Checks["broken"])
}

func TestHealthChecker_TimeoutApplied(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Second, 20*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["slow"], "deadline")
}

func TestHealthChecker_RepositoryCheck(t *testing.T) {
	h := NewHealthChecker()
	repo := memory.NewMemoryRoomRepository()
	require.NoError(t, repo.Create(context.Background(), domain.NewRoom("abc1234", time.Now())))

	h.AddRepositoryCheck(repo, time.Second, time.Second)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_LastReportsPendingUntilRun(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Hour, time.Second)

	status := h.Last()
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "pending", status.Checks["ok"])

	h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, h.Last().Status)
}

func TestHealthChecker_BackgroundChecksRunImmediately(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	assert.Eventually(t, func() bool {
		return h.Last().Status == StatusHealthy
	}, time.Second, 5*time.Millisecond)
}

func TestHealthChecker_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthChecker()
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()

	for _, name := range []string{"a", "b"} {
		h.AddCheck(name, func(ctx context.Context) error {
			arrived.Done()
			select {
			case <-both:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, time.Hour, time.Second)
	}

	// sequential checks would each time out waiting for the other
	assert.Equal(t, StatusHealthy, h.CheckAll(context.Background()).Status)
}
