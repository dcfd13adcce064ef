// Package aggregate merges per-provider forecasts into one composite, picks the source most
// consistent with the others and scores how well the sources agree.
package aggregate

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/rainz/internal/models"
)

// AggregatedSource is the Source value of the composite forecast.
const AggregatedSource = "aggregated"

const (
	// agreementPerDegree is deducted from the agreement score for each degree Celsius of spread
	// between the warmest and coldest current reading.
	agreementPerDegree = 10.0
	// conditionPenalty is deducted in full when no source agrees with the majority condition.
	conditionPenalty = 30.0
)

var ErrNoSources = errors.New("no sources to aggregate")

// Result is the output of Combine.
type Result struct {
	Aggregated   models.SourceForecast
	MostAccurate models.SourceForecast
	// Agreement is 0-100; 100 means every source reported the same temperature and condition.
	Agreement float64
}

// Combine aggregates sources. The slice order is provider priority: it breaks condition
// votes and most-accurate ties in favour of earlier entries.
func Combine(sources []models.SourceForecast) (Result, error) {
	if len(sources) == 0 {
		return Result{}, ErrNoSources
	}
	cond := majority(currentConditions(sources))
	return Result{
		Aggregated:   composite(sources, cond),
		MostAccurate: mostAccurate(sources),
		Agreement:    agreement(sources, cond),
	}, nil
}

func currentConditions(sources []models.SourceForecast) []models.Condition {
	out := make([]models.Condition, len(sources))
	for i, s := range sources {
		out[i] = s.Current.Condition
	}
	return out
}

// majority returns the most common known condition. Ties go to the condition that appears
// first. Unknown only wins when nothing else was reported.
func majority(conds []models.Condition) models.Condition {
	counts := make(map[models.Condition]int, len(conds))
	for _, c := range conds {
		if c != "" && c != models.ConditionUnknown {
			counts[c]++
		}
	}
	best, bestN := models.ConditionUnknown, 0
	for _, c := range conds {
		if n := counts[c]; n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func composite(sources []models.SourceForecast, cond models.Condition) models.SourceForecast {
	n := float64(len(sources))
	var cur models.CurrentConditions
	var fetched time.Time
	for _, s := range sources {
		c := s.Current
		cur.Temperature += c.Temperature / n
		cur.FeelsLike += c.FeelsLike / n
		cur.Humidity += c.Humidity / n
		cur.WindSpeed += c.WindSpeed / n
		cur.Pressure += c.Pressure / n
		cur.UVIndex += c.UVIndex / n
		cur.Visibility += c.Visibility / n
		cur.PrecipitationProbability += c.PrecipitationProbability / n
		if c.ObservedAt.After(cur.ObservedAt) {
			cur.ObservedAt = c.ObservedAt
		}
		if s.FetchedAt.After(fetched) {
			fetched = s.FetchedAt
		}
	}
	cur.WindDirection = meanDirection(sources)
	cur.Condition = cond
	cur.Description = string(cond)
	for _, s := range sources {
		if s.Current.Condition == cond && s.Current.Description != "" {
			cur.Description = s.Current.Description
			break
		}
	}
	roundCurrent(&cur)

	return models.SourceForecast{
		Source:    AggregatedSource,
		Current:   cur,
		Hourly:    alignHourly(sources),
		Daily:     alignDaily(sources),
		FetchedAt: fetched,
	}
}

// meanDirection averages wind bearings as unit vectors so 350 and 10 give 0, not 180.
func meanDirection(sources []models.SourceForecast) float64 {
	var x, y float64
	for _, s := range sources {
		rad := s.Current.WindDirection * math.Pi / 180
		x += math.Cos(rad)
		y += math.Sin(rad)
	}
	if math.Abs(x) < 1e-9 && math.Abs(y) < 1e-9 {
		return 0
	}
	deg := math.Atan2(y, x) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return round1(deg)
}

func alignHourly(sources []models.SourceForecast) []models.HourlyForecast {
	type acc struct {
		temp, pop, wind float64
		n               float64
		conds           []models.Condition
	}
	slots := map[time.Time]*acc{}
	for _, s := range sources {
		for _, h := range s.Hourly {
			key := h.Time.UTC().Truncate(time.Hour)
			a, ok := slots[key]
			if !ok {
				a = &acc{}
				slots[key] = a
			}
			a.temp += h.Temperature
			a.pop += h.PrecipitationProbability
			a.wind += h.WindSpeed
			a.n++
			a.conds = append(a.conds, h.Condition)
		}
	}
	out := make([]models.HourlyForecast, 0, len(slots))
	for t, a := range slots {
		out = append(out, models.HourlyForecast{
			Time:                     t,
			Temperature:              round1(a.temp / a.n),
			PrecipitationProbability: round1(a.pop / a.n),
			WindSpeed:                round1(a.wind / a.n),
			Condition:                majority(a.conds),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func alignDaily(sources []models.SourceForecast) []models.DailyForecast {
	type acc struct {
		high, low, pop float64
		n              float64
		conds          []models.Condition
	}
	days := map[time.Time]*acc{}
	for _, s := range sources {
		for _, d := range s.Daily {
			t := d.Date.UTC()
			key := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			a, ok := days[key]
			if !ok {
				a = &acc{}
				days[key] = a
			}
			a.high += d.High
			a.low += d.Low
			a.pop += d.PrecipitationProbability
			a.n++
			a.conds = append(a.conds, d.Condition)
		}
	}
	out := make([]models.DailyForecast, 0, len(days))
	for t, a := range days {
		out = append(out, models.DailyForecast{
			Date:                     t,
			High:                     round1(a.high / a.n),
			Low:                      round1(a.low / a.n),
			PrecipitationProbability: round1(a.pop / a.n),
			Condition:                majority(a.conds),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// mostAccurate returns the source whose current temperature is closest to the median.
// Ties go to the source with more forecast points, then to the earlier source.
func mostAccurate(sources []models.SourceForecast) models.SourceForecast {
	med := median(sources)
	best := 0
	for i := 1; i < len(sources); i++ {
		di := math.Abs(sources[i].Current.Temperature - med)
		db := math.Abs(sources[best].Current.Temperature - med)
		switch {
		case di < db-1e-9:
			best = i
		case math.Abs(di-db) <= 1e-9 && points(sources[i]) > points(sources[best]):
			best = i
		}
	}
	return sources[best]
}

func points(s models.SourceForecast) int {
	return len(s.Hourly) + len(s.Daily)
}

func median(sources []models.SourceForecast) float64 {
	temps := make([]float64, len(sources))
	for i, s := range sources {
		temps[i] = s.Current.Temperature
	}
	sort.Float64s(temps)
	mid := len(temps) / 2
	if len(temps)%2 == 1 {
		return temps[mid]
	}
	return (temps[mid-1] + temps[mid]) / 2
}

// agreement scores temperature spread and condition dissent. A single source scores 100.
func agreement(sources []models.SourceForecast, cond models.Condition) float64 {
	if len(sources) < 2 {
		return 100
	}
	lo, hi := sources[0].Current.Temperature, sources[0].Current.Temperature
	dissent := 0
	for _, s := range sources {
		lo = math.Min(lo, s.Current.Temperature)
		hi = math.Max(hi, s.Current.Temperature)
		if s.Current.Condition != cond {
			dissent++
		}
	}
	score := 100 - (hi-lo)*agreementPerDegree - conditionPenalty*float64(dissent)/float64(len(sources))
	return round1(math.Max(0, math.Min(100, score)))
}

func roundCurrent(c *models.CurrentConditions) {
	c.Temperature = round1(c.Temperature)
	c.FeelsLike = round1(c.FeelsLike)
	c.Humidity = round1(c.Humidity)
	c.WindSpeed = round1(c.WindSpeed)
	c.Pressure = round1(c.Pressure)
	c.UVIndex = round1(c.UVIndex)
	c.Visibility = round1(c.Visibility)
	c.PrecipitationProbability = round1(c.PrecipitationProbability)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
