package messaging

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/contracts"
)

func gatherFamilies(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestStatsCollector(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg placeOrder) (any, error) {
		return nil, nil
	}))

	names := contracts.QueueNamesFor[placeOrder]()
	require.NoError(t, b.Publish(names.Dlq, contracts.NewEnvelope(placeOrder{Number: 1})))
	require.NoError(t, b.Publish(names.Dlq, contracts.NewEnvelope(placeOrder{Number: 2})))

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewStatsCollector(b)))

	families := gatherFamilies(t, registry)

	depth, ok := families["bgmq_broker_queue_depth"]
	require.True(t, ok)
	require.Len(t, depth.GetMetric(), 4)
	for _, metric := range depth.GetMetric() {
		assert.Equal(t, "placeOrder", labelValue(metric, "type"))
		expected := 0.0
		if labelValue(metric, "queue") == names.Dlq {
			expected = 2
		}
		assert.Equal(t, expected, metric.GetGauge().GetValue(), labelValue(metric, "queue"))
	}

	received, ok := families["bgmq_broker_messages_received_total"]
	require.True(t, ok)
	assert.Len(t, received.GetMetric(), 2)

	workers, ok := families["bgmq_broker_workers"]
	require.True(t, ok)
	assert.Equal(t, 0.0, workers.GetMetric()[0].GetGauge().GetValue())

	require.NoError(t, b.Start())
	require.NoError(t, b.Publish(names.In, contracts.NewEnvelope(placeOrder{Number: 3})))
	require.Eventually(t, func() bool { return b.GetStats().TotalMessagesReceived() == 1 }, waitFor, tick)

	families = gatherFamilies(t, registry)
	processed := families["bgmq_broker_messages_processed_total"]
	require.NotNil(t, processed)
	assert.Equal(t, 1.0, processed.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, families["bgmq_broker_workers"].GetMetric()[0].GetGauge().GetValue())
}
