package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

// Provider is one third-party weather source normalised into the common forecast shape.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error)
}

// Provider names, also used as metric labels. Order of Registry output follows this list.
const (
	OpenMeteoName      = "open-meteo"
	OpenWeatherMapName = "openweathermap"
	TomorrowName       = "tomorrow.io"
	WeatherAPIName     = "weatherapi"
)

// Config selects and configures the providers. Providers that need a key are skipped
// when the key is empty. Empty URLs use each provider's public endpoint.
type Config struct {
	Transport Settings

	OpenMeteoEnabled bool
	OpenMeteoURL     string

	OpenWeatherMapKey string
	OpenWeatherMapURL string

	TomorrowKey string
	TomorrowURL string

	WeatherAPIKey string
	WeatherAPIURL string
}

// Registry builds the configured providers in priority order.
func Registry(cfg Config, logger *zap.Logger) []Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []Provider
	if cfg.OpenMeteoEnabled {
		out = append(out, NewOpenMeteo(cfg.OpenMeteoURL, cfg.Transport, logger))
	}
	add := func(name string, p Provider, err error) {
		if err != nil {
			logger.Info("weather provider disabled", zap.String("provider", name), zap.Error(err))
			return
		}
		out = append(out, p)
	}
	owm, err := NewOpenWeatherMap(cfg.OpenWeatherMapKey, cfg.OpenWeatherMapURL, cfg.Transport, logger)
	add(OpenWeatherMapName, owm, err)
	tio, err := NewTomorrow(cfg.TomorrowKey, cfg.TomorrowURL, cfg.Transport, logger)
	add(TomorrowName, tio, err)
	wapi, err := NewWeatherAPI(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.Transport, logger)
	add(WeatherAPIName, wapi, err)
	return out
}

func requireKey(provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s: %w: API key is required", provider, ErrInvalidAPIKey)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const msToKmh = 3.6
