package client

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

const openWeatherMapDefaultURL = "https://api.openweathermap.org"

// OpenWeatherMap combines the current-weather and 5 day / 3 hour forecast endpoints.
type OpenWeatherMap struct {
	apiKey string
	t      *transport
	now    func() time.Time
}

func NewOpenWeatherMap(apiKey, baseURL string, s Settings, logger *zap.Logger) (*OpenWeatherMap, error) {
	if err := requireKey(OpenWeatherMapName, apiKey); err != nil {
		return nil, err
	}
	return &OpenWeatherMap{
		apiKey: apiKey,
		t:      newTransport(OpenWeatherMapName, orDefault(baseURL, openWeatherMapDefaultURL), s, logger),
		now:    time.Now,
	}, nil
}

func (p *OpenWeatherMap) Name() string { return OpenWeatherMapName }

type owmWeather struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owmCurrentResponse struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Visibility float64      `json:"visibility"`
	Weather    []owmWeather `json:"weather"`
}

type owmForecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp    float64 `json:"temp"`
			TempMin float64 `json:"temp_min"`
			TempMax float64 `json:"temp_max"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Pop     float64      `json:"pop"`
		Weather []owmWeather `json:"weather"`
	} `json:"list"`
}

func (p *OpenWeatherMap) params(lat, lon float64) map[string]string {
	return map[string]string{
		"lat":   formatCoord(lat),
		"lon":   formatCoord(lon),
		"appid": p.apiKey,
		"units": "metric",
	}
}

func (p *OpenWeatherMap) Fetch(ctx context.Context, lat, lon float64) (models.SourceForecast, error) {
	var cur owmCurrentResponse
	if err := p.t.get(ctx, "/data/2.5/weather", p.params(lat, lon), &cur); err != nil {
		return models.SourceForecast{}, err
	}
	var fc owmForecastResponse
	if err := p.t.get(ctx, "/data/2.5/forecast", p.params(lat, lon), &fc); err != nil {
		return models.SourceForecast{}, err
	}

	out := models.SourceForecast{
		Source:    OpenWeatherMapName,
		FetchedAt: p.now().UTC(),
		Current: models.CurrentConditions{
			Temperature:   cur.Main.Temp,
			FeelsLike:     cur.Main.FeelsLike,
			Humidity:      cur.Main.Humidity,
			WindSpeed:     cur.Wind.Speed * msToKmh,
			WindDirection: cur.Wind.Deg,
			Pressure:      cur.Main.Pressure,
			Visibility:    cur.Visibility / 1000,
			Condition:     models.ConditionUnknown,
			ObservedAt:    time.Unix(cur.Dt, 0).UTC(),
		},
	}
	if len(cur.Weather) > 0 {
		out.Current.Condition = openWeatherCondition(cur.Weather[0].ID)
		out.Current.Description = cur.Weather[0].Description
	}

	type dayAcc struct {
		high, low, pop float64
		votes          map[models.Condition]int
	}
	days := map[time.Time]*dayAcc{}
	for _, item := range fc.List {
		cond := models.ConditionUnknown
		if len(item.Weather) > 0 {
			cond = openWeatherCondition(item.Weather[0].ID)
		}
		ts := time.Unix(item.Dt, 0).UTC()
		out.Hourly = append(out.Hourly, models.HourlyForecast{
			Time:                     ts,
			Temperature:              item.Main.Temp,
			PrecipitationProbability: item.Pop * 100,
			WindSpeed:                item.Wind.Speed * msToKmh,
			Condition:                cond,
		})

		day := midnightUTC(ts)
		acc, ok := days[day]
		if !ok {
			acc = &dayAcc{high: item.Main.TempMax, low: item.Main.TempMin, votes: map[models.Condition]int{}}
			days[day] = acc
		}
		if item.Main.TempMax > acc.high {
			acc.high = item.Main.TempMax
		}
		if item.Main.TempMin < acc.low {
			acc.low = item.Main.TempMin
		}
		if item.Pop*100 > acc.pop {
			acc.pop = item.Pop * 100
		}
		acc.votes[cond]++
	}
	if len(out.Hourly) > 0 {
		out.Current.PrecipitationProbability = out.Hourly[0].PrecipitationProbability
	}

	for day, acc := range days {
		out.Daily = append(out.Daily, models.DailyForecast{
			Date:                     day,
			High:                     acc.high,
			Low:                      acc.low,
			PrecipitationProbability: acc.pop,
			Condition:                dominantCondition(acc.votes),
		})
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Date.Before(out.Daily[j].Date) })
	return out, nil
}

// dominantCondition returns the most frequent condition; ties go to the more severe one.
func dominantCondition(votes map[models.Condition]int) models.Condition {
	best, bestN := models.ConditionUnknown, 0
	for c, n := range votes {
		if n > bestN || (n == bestN && severity(c) > severity(best)) {
			best, bestN = c, n
		}
	}
	return best
}

func severity(c models.Condition) int {
	switch c {
	case models.ConditionClear:
		return 1
	case models.ConditionPartlyCloudy:
		return 2
	case models.ConditionCloudy:
		return 3
	case models.ConditionFog:
		return 4
	case models.ConditionDrizzle:
		return 5
	case models.ConditionRain:
		return 6
	case models.ConditionSnow:
		return 7
	case models.ConditionStorm:
		return 8
	default:
		return 0
	}
}
