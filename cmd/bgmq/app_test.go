package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/health"
	"github.com/glimte/mmate-bgmq/internal/config"
	"github.com/glimte/mmate-bgmq/messaging"
)

func testConfig() config.Config {
	return config.Config{
		ThreadCount: 2,
		RetryCount:  2,
		OutMaxSize:  100,
		LogLevel:    slog.LevelInfo,
		AMQPPrefix:  "amqp:",
	}
}

func newTestApp(t *testing.T, cfg config.Config, failureRate float64) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), failureRate)
	require.NoError(t, err)
	t.Cleanup(func() { a.close() })
	return a
}

func TestRunBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := newTestApp(t, testConfig(), 0)
	require.NoError(t, a.runBatch(ctx, 20))

	orders, ok := messaging.QueueSetFor[PlaceOrder](a.broker)
	require.True(t, ok)
	placed, ok := messaging.QueueSetFor[OrderPlaced](a.broker)
	require.True(t, ok)

	// orders 10 and 20 carry no amount
	assert.Equal(t, 2, orders.Len(orders.QueueNames().Dlq))
	assert.Equal(t, int64(18), placed.Handler().GetStats().TotalMessagesProcessed)

	stats := orders.Handler().GetStats()
	assert.Equal(t, int64(16), stats.TotalNormalMessagesReceived)
	assert.Equal(t, int64(4), stats.TotalPriorityMessagesReceived)
	assert.Equal(t, messaging.StatusStopped, a.broker.GetStatus())
	assert.Contains(t, a.broker.GetStatsDescription(), "STATS for PlaceOrder")
}

func TestRunBatchWithRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	cfg.DisablePriority = true
	a := newTestApp(t, cfg, 1)
	require.NoError(t, a.runBatch(ctx, 5))

	orders, ok := messaging.QueueSetFor[PlaceOrder](a.broker)
	require.True(t, ok)
	stats := orders.Handler().GetStats()

	assert.Equal(t, 5, orders.Len(orders.QueueNames().Dlq))
	// each order is retried twice before it is dead-lettered
	assert.Equal(t, int64(10), stats.TotalRetries)
	assert.Equal(t, int64(15), stats.TotalMessagesFailed)
	assert.Equal(t, int64(0), stats.TotalPriorityMessagesReceived)
}

func TestAppHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := newTestApp(t, testConfig(), 0)
	require.NoError(t, a.runBatch(ctx, 3))

	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body bytes.Buffer
		_, err = body.ReadFrom(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body.String(), `bgmq_broker_messages_processed_total{type="PlaceOrder"} 3`)
		assert.Contains(t, body.String(), `bgmq_handler_messages_total{type="PlaceOrder"} 3`)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var report health.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, health.StatusDegraded, report.Status)
		assert.Equal(t, health.StatusDegraded, report.Checks["broker"].Status)
		assert.Equal(t, health.StatusHealthy, report.Checks["queues"].Status)
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Status   string                   `json:"status"`
			Workers  int                      `json:"workers"`
			Handlers []messaging.HandlerStats `json:"handlers"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		assert.Equal(t, messaging.StatusStopped, body.Status)
		assert.Zero(t, body.Workers)
		require.Len(t, body.Handlers, 2)
		assert.Equal(t, "PlaceOrder", body.Handlers[0].Name)
	})
}

func TestRootCommand(t *testing.T) {
	t.Setenv("BGMQ_LOG_LEVEL", "error")
	t.Setenv("BGMQ_AMQP_URL", "")
	t.Setenv("BGMQ_METRICS_ADDR", "")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"stats", "--count", "4", "--failure-rate", "0"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Broker: Stopped")
	assert.Contains(t, out.String(), "STATS for OrderPlaced")
}
