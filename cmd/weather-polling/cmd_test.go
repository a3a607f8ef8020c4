package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/config"
	"github.com/i474232898/weather-polling/internal/store"
	"github.com/i474232898/weather-polling/internal/weather"
)

// testConfig loads the defaults into the package globals.
func testConfig(t *testing.T) {
	t.Helper()
	c, err := config.LoadFile("")
	require.NoError(t, err)
	cfg = c
	log = zap.NewNop().Sugar()
	t.Cleanup(func() { cfg, log = nil, nil })
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["refresh"])
	assert.True(t, names["locations"])

	sub, _, err := rootCmd.Find([]string{"locations", "rm"})
	require.NoError(t, err)
	assert.Equal(t, locationsRemoveCmd, sub)
}

func TestSeedLocationsOnlyWhenEmpty(t *testing.T) {
	testConfig(t)
	cfg.Locations.Seed = "48.85,2.35;59.91,10.75,metno"
	ctx := context.Background()
	st := store.NewMemoryStore(0)

	require.NoError(t, seedLocations(ctx, st))
	list, err := st.ReadLocationList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CurrentPosition)
	assert.Equal(t, "metno", list[2].WeatherSource)

	require.NoError(t, st.DeleteLocation(ctx, weather.CurrentPositionID))
	require.NoError(t, seedLocations(ctx, st))
	list, err = st.ReadLocationList(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWeatherServiceProviders(t *testing.T) {
	testConfig(t)
	client := &http.Client{}

	service, err := newWeatherService(client)
	require.NoError(t, err)
	assert.Equal(t, []string{"metno", "openmeteo"}, service.Providers())
	assert.Equal(t, "openmeteo", service.Default())

	cfg.Providers.WeatherAPIKey = "key"
	cfg.Providers.Default = "weatherapi"
	service, err = newWeatherService(client)
	require.NoError(t, err)
	assert.Equal(t, []string{"metno", "openmeteo", "weatherapi"}, service.Providers())
	assert.Equal(t, "weatherapi", service.Default())

	cfg.Providers.Default = "openweathermap"
	_, err = newWeatherService(client)
	assert.ErrorIs(t, err, weather.ErrUnknownProvider)
}

func TestResolverSelection(t *testing.T) {
	testConfig(t)
	r, err := newResolver(&http.Client{})
	require.NoError(t, err)
	assert.Equal(t, "ip", r.Name())

	cfg.Location.Resolver = "geocoder"
	r, err = newResolver(&http.Client{})
	require.NoError(t, err)
	assert.Equal(t, "geocoder", r.Name())
}

func TestNewAppWithMemoryStore(t *testing.T) {
	testConfig(t)
	a, err := newApp(context.Background(), true)
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.nc)
	assert.NotNil(t, a.runner)
	assert.False(t, a.runner.Running())

	list, err := a.store.ReadLocationList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CurrentPosition)
}
