package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/internal/core/gateway"
)

func TestBuildModules_Validates(t *testing.T) {
	var gw *gateway.Gateway
	require.NoError(t, fx.ValidateApp(buildModules(config.NewConfig(), nil, &gw)...))
	require.NoError(t, fx.ValidateApp(buildModules(config.NewConfig(), prometheus.NewRegistry(), &gw)...))
}

func TestBuildConfig_Defaults(t *testing.T) {
	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Gateway.Port, cfg.Gateway.Port)
	assert.Equal(t, config.TransportTCP, cfg.Gateway.Transport)
}

func TestNewMetricsServer(t *testing.T) {
	srv := newMetricsServer(":0", prometheus.NewRegistry())
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
