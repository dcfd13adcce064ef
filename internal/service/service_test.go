package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/rainz/internal/client"
	"github.com/kjstillabower/rainz/internal/llm"
	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/offline"
	"github.com/kjstillabower/rainz/internal/testhelpers"
)

type stubEnhancer struct {
	enh models.Enhancement
	err error
}

func (s stubEnhancer) Enhance(context.Context, models.Location, models.SourceForecast, []models.SourceForecast) (models.Enhancement, error) {
	return s.enh, s.err
}

func providers(ps ...*testhelpers.FakeProvider) []client.Provider {
	out := make([]client.Provider, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func TestGetWeatherData_AllSourcesSucceed(t *testing.T) {
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("a", 10, models.ConditionRain),
		testhelpers.NewFakeProvider("b", 11, models.ConditionRain),
		testhelpers.NewFakeProvider("c", 12, models.ConditionCloudy),
	), nil, time.Second, nil)

	resp, err := svc.GetWeatherData(context.Background(), 45.52, -122.68, "Portland")
	require.NoError(t, err)

	assert.Equal(t, models.Location{Name: "Portland", Latitude: 45.52, Longitude: -122.68}, resp.Location)
	require.Len(t, resp.Sources, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{resp.Sources[0].Source, resp.Sources[1].Source, resp.Sources[2].Source})
	assert.Equal(t, "b", resp.MostAccurate.Source)
	assert.Equal(t, 11.0, resp.Aggregated.Current.Temperature)
	assert.Equal(t, models.ConditionRain, resp.Aggregated.Current.Condition)
	assert.True(t, resp.Enhancement.Fallback)
	assert.Equal(t, resp.Enhancement.Agreement, resp.Enhancement.Confidence)
	assert.False(t, resp.FetchedAt.IsZero())
}

func TestGetWeatherData_PartialFailureTolerated(t *testing.T) {
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("a", 10, models.ConditionRain).Fail(client.ErrRateLimited),
		testhelpers.NewFakeProvider("b", 11, models.ConditionRain),
	), nil, time.Second, nil)

	resp, err := svc.GetWeatherData(context.Background(), 1, 2, "x")
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "b", resp.Sources[0].Source)
	assert.Equal(t, 100.0, resp.Enhancement.Agreement)
}

func TestGetWeatherData_AllSourcesFail(t *testing.T) {
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("a", 10, models.ConditionRain).Fail(client.ErrUpstreamFailure),
		testhelpers.NewFakeProvider("b", 11, models.ConditionRain).Fail(client.ErrInvalidAPIKey),
	), nil, time.Second, nil)

	_, err := svc.GetWeatherData(context.Background(), 1, 2, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.ErrorIs(t, err, client.ErrUpstreamFailure)
	assert.ErrorIs(t, err, client.ErrInvalidAPIKey)
}

func TestGetWeatherData_NoProviders(t *testing.T) {
	svc := NewWeatherService(nil, nil, time.Second, nil)
	_, err := svc.GetWeatherData(context.Background(), 1, 2, "x")
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
}

func TestGetWeatherData_FetchTimeout(t *testing.T) {
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("slow", 10, models.ConditionRain).Delay(time.Second),
	), nil, 30*time.Millisecond, nil)

	start := time.Now()
	_, err := svc.GetWeatherData(context.Background(), 1, 2, "x")
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGetWeatherData_EnhancerSuccess(t *testing.T) {
	enh := stubEnhancer{enh: models.Enhancement{Summary: "Wet afternoon.", Confidence: 72, Model: "m"}}
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("a", 10, models.ConditionRain),
		testhelpers.NewFakeProvider("b", 12, models.ConditionRain),
	), enh, time.Second, nil)

	resp, err := svc.GetWeatherData(context.Background(), 1, 2, "x")
	require.NoError(t, err)
	assert.Equal(t, "Wet afternoon.", resp.Enhancement.Summary)
	assert.Equal(t, 72.0, resp.Enhancement.Confidence)
	assert.Equal(t, 80.0, resp.Enhancement.Agreement)
	assert.False(t, resp.Enhancement.Fallback)
}

func TestGetWeatherData_EnhancerFailureFallsBack(t *testing.T) {
	enh := stubEnhancer{err: llm.ErrBadResponse}
	svc := NewWeatherService(providers(testhelpers.NewFakeProvider("a", 10, models.ConditionRain)), enh, time.Second, nil)

	resp, err := svc.GetWeatherData(context.Background(), 1, 2, "Here")
	require.NoError(t, err)
	assert.True(t, resp.Enhancement.Fallback)
	assert.Contains(t, resp.Enhancement.Summary, "Here:")
}

// TestGetWeatherData_CoalescesConcurrentCallers verifies that callers for the same rounded
// coordinate share one provider call.
func TestGetWeatherData_CoalescesConcurrentCallers(t *testing.T) {
	p := testhelpers.NewFakeProvider("a", 10, models.ConditionRain).Block()
	svc := NewWeatherService(providers(p), nil, 5*time.Second, nil)
	key := offline.CacheID(45.52, -122.68)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	names := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.GetWeatherData(context.Background(), 45.521, -122.681, string(rune('A'+i)))
			errs[i] = err
			names[i] = resp.Location.Name
		}(i)
	}

	require.Eventually(t, func() bool { return svc.stampede.Waiting(key) == callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.Release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(rune('A'+i)), names[i], "each caller sees its own location name")
	}
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 0, svc.stampede.Waiting(key))
}

// TestGetWeatherData_CallerCancelDoesNotAbortSharedFetch verifies that one caller giving up
// leaves the shared fetch running for the others.
func TestGetWeatherData_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	p := testhelpers.NewFakeProvider("a", 10, models.ConditionRain).Block()
	svc := NewWeatherService(providers(p), nil, 5*time.Second, nil)
	key := offline.CacheID(1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetWeatherData(ctx, 1, 2, "first")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return p.Calls() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := svc.GetWeatherData(context.Background(), 1, 2, "second")
		secondErr <- err
	}()
	require.Eventually(t, func() bool { return svc.stampede.Waiting(key) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	p.Release()
	assert.NoError(t, <-secondErr)
	assert.Equal(t, 1, p.Calls())
}

func TestProviders(t *testing.T) {
	svc := NewWeatherService(providers(
		testhelpers.NewFakeProvider("x", 1, models.ConditionClear),
		testhelpers.NewFakeProvider("y", 1, models.ConditionClear),
	), nil, 0, nil)
	assert.Equal(t, []string{"x", "y"}, svc.Providers())
	assert.Equal(t, DefaultFetchTimeout, svc.timeout)
}

func TestGetWeatherData_WrapsKeyInError(t *testing.T) {
	svc := NewWeatherService(providers(testhelpers.NewFakeProvider("a", 1, models.ConditionClear).Fail(errors.New("boom"))), nil, time.Second, nil)
	_, err := svc.GetWeatherData(context.Background(), 45.52, -122.68, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather_45.52_-122.68")
}
