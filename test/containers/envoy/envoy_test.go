package envoy_test

import (
	"context"
	"testing"

	"github.com/getyourguide/reshook/test/containers/envoy"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func TestRunContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	img := envoy.Image()
	if img == "" {
		t.Skipf("%s is not set", envoy.ImageEnv)
	}

	container := envoy.New(envoy.WithHostPorts(18080, 18081))
	u, err := container.Run(context.Background(), img)
	testcontainers.CleanupContainer(t, container.Container)

	require.NoError(t, err)
	require.Equal(t, u, container.URL)
	require.Contains(t, u.String(), "http://")
}
