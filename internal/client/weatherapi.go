package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

const weatherAPIDefaultURL = "https://api.weatherapi.com"

// WeatherAPI uses the WeatherAPI.com forecast endpoint, which carries current conditions too.
type WeatherAPI struct {
	apiKey string
	days   int
	t      *transport
	now    func() time.Time
}

func NewWeatherAPI(apiKey, baseURL string, s Settings, logger *zap.Logger) (*WeatherAPI, error) {
	if err := requireKey(WeatherAPIName, apiKey); err != nil {
		return nil, err
	}
	return &WeatherAPI{
		apiKey: apiKey,
		days:   3,
		t:      newTransport(WeatherAPIName, orDefault(baseURL, weatherAPIDefaultURL), s, logger),
		now:    time.Now,
	}, nil
}

func (p *WeatherAPI) Name() string { return WeatherAPIName }

type wapiCondition struct {
	Text string `json:"text"`
	Code int    `json:"code"`
}

type weatherAPIResponse struct {
	Current struct {
		LastUpdatedEpoch int64         `json:"last_updated_epoch"`
		TempC            float64       `json:"temp_c"`
		FeelsLikeC       float64       `json:"feelslike_c"`
		Humidity         float64       `json:"humidity"`
		WindKph          float64       `json:"wind_kph"`
		WindDegree       float64       `json:"wind_degree"`
		PressureMb       float64       `json:"pressure_mb"`
		UV               float64       `json:"uv"`
		VisKm            float64       `json:"vis_km"`
		Condition        wapiCondition `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			DateEpoch int64 `json:"date_epoch"`
			Day       struct {
				MaxTempC          float64       `json:"maxtemp_c"`
				MinTempC          float64       `json:"mintemp_c"`
				DailyChanceOfRain float64       `json:"daily_chance_of_rain"`
				Condition         wapiCondition `json:"condition"`
			} `json:"day"`
			Hour []struct {
				TimeEpoch    int64         `json:"time_epoch"`
				TempC        float64       `json:"temp_c"`
				ChanceOfRain float64       `json:"chance_of_rain"`
				WindKph      float64       `json:"wind_kph"`
				Condition    wapiCondition `json:"condition"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (p *WeatherAPI) Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error) {
	var r weatherAPIResponse
	err := p.t.get(ctx, "/v1/forecast.json", map[string]string{
		"key":    p.apiKey,
		"q":      fmt.Sprintf("%s,%s", formatCoord(lat), formatCoord(lon)),
		"days":   fmt.Sprint(p.days),
		"aqi":    "no",
		"alerts": "no",
	}, &r)
	if err != nil {
		return models.SourceForecast{}, err
	}

	out := models.SourceForecast{
		Source:    WeatherAPIName,
		FetchedAt: p.now().UTC(),
		Current: models.CurrentConditions{
			Temperature:   r.Current.TempC,
			FeelsLike:     r.Current.FeelsLikeC,
			Humidity:      r.Current.Humidity,
			WindSpeed:     r.Current.WindKph,
			WindDirection: r.Current.WindDegree,
			Pressure:      r.Current.PressureMb,
			UVIndex:       r.Current.UV,
			Visibility:    r.Current.VisKm,
			Condition:     weatherAPICondition(r.Current.Condition.Code),
			Description:   r.Current.Condition.Text,
			ObservedAt:    time.Unix(r.Current.LastUpdatedEpoch, 0).UTC(),
		},
	}

	for _, fd := range r.Forecast.ForecastDay {
		out.Daily = append(out.Daily, models.DailyForecast{
			Date:                     midnightUTC(time.Unix(fd.DateEpoch, 0)),
			High:                     fd.Day.MaxTempC,
			Low:                      fd.Day.MinTempC,
			PrecipitationProbability: fd.Day.DailyChanceOfRain,
			Condition:                weatherAPICondition(fd.Day.Condition.Code),
		})
		for _, h := range fd.Hour {
			out.Hourly = append(out.Hourly, models.HourlyForecast{
				Time:                     time.Unix(h.TimeEpoch, 0).UTC(),
				Temperature:              h.TempC,
				PrecipitationProbability: h.ChanceOfRain,
				WindSpeed:                h.WindKph,
				Condition:                weatherAPICondition(h.Condition.Code),
			})
		}
	}
	out.Current.PrecipitationProbability = currentHourValue(out.Hourly, out.Current.ObservedAt)
	return out, nil
}
