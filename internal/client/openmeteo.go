package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

const openMeteoDefaultURL = "https://api.open-meteo.com"

// OpenMeteo needs no API key.
type OpenMeteo struct {
	t   *transport
	now func() time.Time
}

func NewOpenMeteo(baseURL string, s Settings, logger *zap.Logger) *OpenMeteo {
	return &OpenMeteo{t: newTransport(OpenMeteoName, orDefault(baseURL, openMeteoDefaultURL), s, logger), now: time.Now}
}

func (p *OpenMeteo) Name() string { return OpenMeteoName }

type openMeteoResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature         float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity    float64 `json:"relative_humidity_2m"`
		WindSpeed           float64 `json:"wind_speed_10m"`
		WindDirection       float64 `json:"wind_direction_10m"`
		SurfacePressure     float64 `json:"surface_pressure"`
		UVIndex             float64 `json:"uv_index"`
		Visibility          float64 `json:"visibility"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
	Hourly struct {
		Time                     []string  `json:"time"`
		Temperature              []float64 `json:"temperature_2m"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		WindSpeed                []float64 `json:"wind_speed_10m"`
		WeatherCode              []int     `json:"weather_code"`
	} `json:"hourly"`
	Daily struct {
		Time                     []string  `json:"time"`
		TemperatureMax           []float64 `json:"temperature_2m_max"`
		TemperatureMin           []float64 `json:"temperature_2m_min"`
		PrecipitationProbability []float64 `json:"precipitation_probability_max"`
		WeatherCode              []int     `json:"weather_code"`
	} `json:"daily"`
}

func (p *OpenMeteo) Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error) {
	var r openMeteoResponse
	err := p.t.get(ctx, "/v1/forecast", map[string]string{
		"latitude":      formatCoord(lat),
		"longitude":     formatCoord(lon),
		"current":       "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,wind_direction_10m,surface_pressure,uv_index,visibility,weather_code",
		"hourly":        "temperature_2m,precipitation_probability,wind_speed_10m,weather_code",
		"daily":         "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max",
		"timezone":      "UTC",
		"forecast_days": "7",
	}, &r)
	if err != nil {
		return models.SourceForecast{}, err
	}

	out := models.SourceForecast{
		Source:    OpenMeteoName,
		FetchedAt: p.now().UTC(),
		Current: models.CurrentConditions{
			Temperature:   r.Current.Temperature,
			FeelsLike:     r.Current.ApparentTemperature,
			Humidity:      r.Current.RelativeHumidity,
			WindSpeed:     r.Current.WindSpeed,
			WindDirection: r.Current.WindDirection,
			Pressure:      r.Current.SurfacePressure,
			UVIndex:       r.Current.UVIndex,
			Visibility:    r.Current.Visibility / 1000,
			Condition:     wmoCondition(r.Current.WeatherCode),
		},
	}
	out.Current.Description = string(out.Current.Condition)
	out.Current.ObservedAt = parseOpenMeteoTime(r.Current.Time, out.FetchedAt)

	for i, ts := range r.Hourly.Time {
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		h := models.HourlyForecast{Time: t.UTC()}
		h.Temperature = at(r.Hourly.Temperature, i)
		h.PrecipitationProbability = at(r.Hourly.PrecipitationProbability, i)
		h.WindSpeed = at(r.Hourly.WindSpeed, i)
		if i < len(r.Hourly.WeatherCode) {
			h.Condition = wmoCondition(r.Hourly.WeatherCode[i])
		}
		out.Hourly = append(out.Hourly, h)
	}
	if len(r.Hourly.PrecipitationProbability) > 0 {
		out.Current.PrecipitationProbability = currentHourValue(out.Hourly, out.Current.ObservedAt)
	}

	for i, ds := range r.Daily.Time {
		d, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		day := models.DailyForecast{Date: d.UTC()}
		day.High = at(r.Daily.TemperatureMax, i)
		day.Low = at(r.Daily.TemperatureMin, i)
		day.PrecipitationProbability = at(r.Daily.PrecipitationProbability, i)
		if i < len(r.Daily.WeatherCode) {
			day.Condition = wmoCondition(r.Daily.WeatherCode[i])
		}
		out.Daily = append(out.Daily, day)
	}
	return out, nil
}

func parseOpenMeteoTime(s string, fallback time.Time) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

// currentHourValue returns the precipitation probability of the hourly slot containing t.
func currentHourValue(hourly []models.HourlyForecast, t time.Time) float64 {
	hour := t.Truncate(time.Hour)
	for _, h := range hourly {
		if h.Time.Equal(hour) {
			return h.PrecipitationProbability
		}
	}
	return 0
}

func at(vals []float64, i int) float64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}
