package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestParseKeyValues(t *testing.T) {
	headers := ParseKeyValues(" api-key = secret ,broken, =skip,tenant=carbon")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "carbon"}, headers)
	require.Empty(t, ParseKeyValues(""))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "linkaged"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestResourceCarriesNodeAttributes(t *testing.T) {
	res, err := Resource(Config{
		ServiceName: "linkaged",
		Environment: "staging",
		Attributes: map[string]string{
			"carbonlink.storage.backend": "bolt",
			"carbonlink.vault":           "0x00000000000000000000000000000000000000ee",
		},
	})
	require.NoError(t, err)

	set := res.Set()
	for key, want := range map[string]string{
		"service.name":               "linkaged",
		"deployment.environment":     "staging",
		"carbonlink.storage.backend": "bolt",
		"carbonlink.vault":           "0x00000000000000000000000000000000000000ee",
	} {
		value, ok := set.Value(attribute.Key(key))
		require.True(t, ok, key)
		require.Equal(t, want, value.AsString(), key)
	}
}

func TestInitWithMetricsShutsDown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "linkaged",
		Endpoint:       "127.0.0.1:1",
		Insecure:       true,
		Metrics:        true,
		MetricInterval: time.Hour,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
