package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

const tomorrowDefaultURL = "https://api.tomorrow.io"

// Tomorrow uses the Tomorrow.io v4 forecast endpoint with hourly and daily timesteps.
// The first hourly entry stands in for current conditions.
type Tomorrow struct {
	apiKey string
	t      *transport
	now    func() time.Time
}

func NewTomorrow(apiKey, baseURL string, s Settings, logger *zap.Logger) (*Tomorrow, error) {
	if err := requireKey(TomorrowName, apiKey); err != nil {
		return nil, err
	}
	return &Tomorrow{
		apiKey: apiKey,
		t:      newTransport(TomorrowName, orDefault(baseURL, tomorrowDefaultURL), s, logger),
		now:    time.Now,
	}, nil
}

func (p *Tomorrow) Name() string { return TomorrowName }

type tomorrowResponse struct {
	Timelines struct {
		Hourly []struct {
			Time   time.Time `json:"time"`
			Values struct {
				Temperature              float64 `json:"temperature"`
				TemperatureApparent      float64 `json:"temperatureApparent"`
				Humidity                 float64 `json:"humidity"`
				WindSpeed                float64 `json:"windSpeed"`
				WindDirection            float64 `json:"windDirection"`
				PressureSurfaceLevel     float64 `json:"pressureSurfaceLevel"`
				UVIndex                  float64 `json:"uvIndex"`
				Visibility               float64 `json:"visibility"`
				PrecipitationProbability float64 `json:"precipitationProbability"`
				WeatherCode              int     `json:"weatherCode"`
			} `json:"values"`
		} `json:"hourly"`
		Daily []struct {
			Time   time.Time `json:"time"`
			Values struct {
				TemperatureMax              float64 `json:"temperatureMax"`
				TemperatureMin              float64 `json:"temperatureMin"`
				PrecipitationProbabilityMax float64 `json:"precipitationProbabilityMax"`
				WeatherCodeMax              int     `json:"weatherCodeMax"`
			} `json:"values"`
		} `json:"daily"`
	} `json:"timelines"`
}

func (p *Tomorrow) Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error) {
	var r tomorrowResponse
	err := p.t.get(ctx, "/v4/weather/forecast", map[string]string{
		"location":  fmt.Sprintf("%s,%s", formatCoord(lat), formatCoord(lon)),
		"apikey":    p.apiKey,
		"units":     "metric",
		"timesteps": "1h,1d",
	}, &r)
	if err != nil {
		return models.SourceForecast{}, err
	}
	if len(r.Timelines.Hourly) == 0 {
		return models.SourceForecast{}, fmt.Errorf("%s: %w: empty hourly timeline", TomorrowName, ErrUpstreamFailure)
	}

	out := models.SourceForecast{Source: TomorrowName, FetchedAt: p.now().UTC()}
	first := r.Timelines.Hourly[0]
	out.Current = models.CurrentConditions{
		Temperature:              first.Values.Temperature,
		FeelsLike:                first.Values.TemperatureApparent,
		Humidity:                 first.Values.Humidity,
		WindSpeed:                first.Values.WindSpeed * msToKmh,
		WindDirection:            first.Values.WindDirection,
		Pressure:                 first.Values.PressureSurfaceLevel,
		UVIndex:                  first.Values.UVIndex,
		Visibility:               first.Values.Visibility,
		PrecipitationProbability: first.Values.PrecipitationProbability,
		Condition:                tomorrowCondition(first.Values.WeatherCode),
		ObservedAt:               first.Time.UTC(),
	}
	out.Current.Description = string(out.Current.Condition)

	for _, h := range r.Timelines.Hourly {
		out.Hourly = append(out.Hourly, models.HourlyForecast{
			Time:                     h.Time.UTC(),
			Temperature:              h.Values.Temperature,
			PrecipitationProbability: h.Values.PrecipitationProbability,
			WindSpeed:                h.Values.WindSpeed * msToKmh,
			Condition:                tomorrowCondition(h.Values.WeatherCode),
		})
	}
	for _, d := range r.Timelines.Daily {
		out.Daily = append(out.Daily, models.DailyForecast{
			Date:                     midnightUTC(d.Time),
			High:                     d.Values.TemperatureMax,
			Low:                      d.Values.TemperatureMin,
			PrecipitationProbability: d.Values.PrecipitationProbabilityMax,
			Condition:                tomorrowCondition(d.Values.WeatherCodeMax),
		})
	}
	return out, nil
}
