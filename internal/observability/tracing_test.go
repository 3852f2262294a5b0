// internal/observability/tracing_test.go
package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xkilldash9x/autowait/internal/config"
)

func TestSetupTracing(t *testing.T) {
	t.Run("disabled leaves the global provider alone", func(t *testing.T) {
		before := otel.GetTracerProvider()
		shutdown, err := SetupTracing(config.TelemetryConfig{}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, before, otel.GetTracerProvider())
		assert.NoError(t, shutdown(t.Context()))
	})

	t.Run("enabled exports spans on shutdown", func(t *testing.T) {
		before := otel.GetTracerProvider()
		t.Cleanup(func() { otel.SetTracerProvider(before) })

		var out bytes.Buffer
		shutdown, err := SetupTracing(config.TelemetryConfig{
			TracingEnabled: true,
			ServiceName:    "autowait-test",
			SampleRatio:    1,
		}, &out)
		require.NoError(t, err)

		_, span := StartSpan(t.Context(), "poll", attribute.String("locator", "getByText(\"x\")"))
		span.End()
		require.NoError(t, shutdown(t.Context()))

		assert.Contains(t, out.String(), `"Name":"poll"`)
		assert.Contains(t, out.String(), "autowait-test")
	})
}

func TestRecordPoll(t *testing.T) {
	before := testutil.ToFloat64(metricPollOutcomes.WithLabelValues("timed_out"))
	RecordPoll("timed_out", 3, 0.3)
	assert.Equal(t, before+1, testutil.ToFloat64(metricPollOutcomes.WithLabelValues("timed_out")))
}

func TestPoolGauges(t *testing.T) {
	base := testutil.ToFloat64(metricContextsInUse)
	RecordCheckout(0.01)
	RecordCheckout(0.02)
	assert.Equal(t, base+2, testutil.ToFloat64(metricContextsInUse))
	RecordCheckin()
	RecordCheckin()
	assert.Equal(t, base, testutil.ToFloat64(metricContextsInUse))

	SetIdleContexts(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(metricContextsIdle))
	SetIdleContexts(0)
}
