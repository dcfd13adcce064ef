// Package testhelpers provides fake providers and fixture builders shared by package tests.
package testhelpers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/rainz/internal/models"
)

// Epoch is a fixed instant used by fixtures.
var Epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// FakeProvider is a scripted weather provider. It satisfies client.Provider.
type FakeProvider struct {
	ProviderName string
	Temperature  float64
	Condition    models.Condition

	mu    sync.Mutex
	err   error
	delay time.Duration
	gate  chan struct{}
	calls atomic.Int32
}

// NewFakeProvider returns a provider that succeeds with temp and cond.
func NewFakeProvider(name string, temp float64, cond models.Condition) *FakeProvider {
	return &FakeProvider{ProviderName: name, Temperature: temp, Condition: cond}
}

func (p *FakeProvider) Name() string { return p.ProviderName }

// Fail makes later calls return err; nil restores success.
func (p *FakeProvider) Fail(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// Delay makes each call wait d (or until ctx is done).
func (p *FakeProvider) Delay(d time.Duration) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// Block makes calls wait until Release (or ctx is done).
func (p *FakeProvider) Block() *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	return p
}

// Release unblocks every waiting and future call.
func (p *FakeProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// Calls returns how many times Fetch ran.
func (p *FakeProvider) Calls() int {
	return int(p.calls.Load())
}

func (p *FakeProvider) Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error) {
	p.calls.Add(1)
	p.mu.Lock()
	err, delay, gate := p.err, p.delay, p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.SourceForecast{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.SourceForecast{}, ctx.Err()
		}
	}
	if err != nil {
		return models.SourceForecast{}, err
	}
	return Forecast(p.ProviderName, p.Temperature, p.Condition), nil
}

// Forecast builds a small but complete SourceForecast.
func Forecast(source string, temp float64, cond models.Condition) models.SourceForecast {
	day := time.Date(Epoch.Year(), Epoch.Month(), Epoch.Day(), 0, 0, 0, 0, time.UTC)
	return models.SourceForecast{
		Source:    source,
		FetchedAt: Epoch,
		Current: models.CurrentConditions{
			Temperature: temp,
			FeelsLike:   temp - 1,
			Humidity:    75,
			WindSpeed:   12,
			Condition:   cond,
			ObservedAt:  Epoch,
		},
		Hourly: []models.HourlyForecast{
			{Time: Epoch, Temperature: temp, PrecipitationProbability: 40, WindSpeed: 12, Condition: cond},
			{Time: Epoch.Add(time.Hour), Temperature: temp + 1, PrecipitationProbability: 30, WindSpeed: 13, Condition: cond},
		},
		Daily: []models.DailyForecast{
			{Date: day, High: temp + 3, Low: temp - 4, PrecipitationProbability: 50, Condition: cond},
		},
	}
}

// Response builds a WeatherResponse around a single source.
func Response(name string, lat, lon, temp float64) models.WeatherResponse {
	src := Forecast("fake", temp, models.ConditionCloudy)
	agg := src
	agg.Source = "aggregated"
	return models.WeatherResponse{
		Location:     models.Location{Name: name, Latitude: lat, Longitude: lon},
		Sources:      []models.SourceForecast{src},
		MostAccurate: src,
		Aggregated:   agg,
		Enhancement:  models.Enhancement{Summary: "cloudy", Confidence: 100, Agreement: 100, Fallback: true},
		FetchedAt:    Epoch,
	}
}
