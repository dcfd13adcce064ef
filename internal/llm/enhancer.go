// Package llm produces the narrative layer of a weather response, either from a Gemini
// model or from a deterministic fallback built from the aggregated forecast.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/rainz/internal/models"
)

// ErrNotConfigured is returned by Disabled so callers take the fallback path.
var ErrNotConfigured = errors.New("llm enhancer not configured")

// Enhancer turns aggregated weather into a narrative with a confidence score.
type Enhancer interface {
	Enhance(ctx context.Context, loc models.Location, aggregated models.SourceForecast, sources []models.SourceForecast) (models.Enhancement, error)
}

// Disabled is used when no model key is configured.
type Disabled struct{}

func (Disabled) Enhance(context.Context, models.Location, models.SourceForecast, []models.SourceForecast) (models.Enhancement, error) {
	return models.Enhancement{}, ErrNotConfigured
}

// FallbackSummary builds a deterministic enhancement from the aggregated forecast. Confidence
// equals the cross-source agreement.
func FallbackSummary(loc models.Location, aggregated models.SourceForecast, agreement float64) models.Enhancement {
	cur := aggregated.Current
	var b strings.Builder
	if loc.Name != "" {
		fmt.Fprintf(&b, "%s: ", loc.Name)
	}
	fmt.Fprintf(&b, "%s, %.1f°C (feels like %.1f°C), humidity %.0f%%, wind %.0f km/h.",
		describe(cur), cur.Temperature, cur.FeelsLike, cur.Humidity, cur.WindSpeed)
	if len(aggregated.Daily) > 0 {
		d := aggregated.Daily[0]
		fmt.Fprintf(&b, " Today %.0f to %.0f°C with a %.0f%% chance of precipitation.", d.Low, d.High, d.PrecipitationProbability)
	}

	var insights []string
	if agreement < 60 {
		insights = append(insights, "Sources disagree noticeably; expect the forecast to shift.")
	}
	if len(aggregated.Daily) > 0 && aggregated.Daily[0].PrecipitationProbability >= 60 {
		insights = append(insights, "Precipitation is likely today.")
	}
	if cur.UVIndex >= 6 {
		insights = append(insights, fmt.Sprintf("UV index is high (%.0f); limit midday sun exposure.", cur.UVIndex))
	}
	if cur.WindSpeed >= 40 {
		insights = append(insights, "Strong winds expected.")
	}

	return models.Enhancement{
		Summary:    b.String(),
		Insights:   insights,
		Confidence: agreement,
		Agreement:  agreement,
		Fallback:   true,
	}
}

func describe(cur models.CurrentConditions) string {
	if cur.Description != "" {
		return cur.Description
	}
	return strings.ReplaceAll(string(cur.Condition), "_", " ")
}

// buildPrompt lists every source's current reading and the aggregated outlook and asks for
// a JSON object with summary, confidence and insights.
func buildPrompt(loc models.Location, aggregated models.SourceForecast, sources []models.SourceForecast) string {
	var b strings.Builder
	name := loc.Name
	if name == "" {
		name = fmt.Sprintf("%.2f, %.2f", loc.Latitude, loc.Longitude)
	}
	fmt.Fprintf(&b, "You are a meteorologist. Combine these weather reports for %s into one forecast.\n\n", name)
	b.WriteString("Current conditions by source:\n")
	for _, s := range sources {
		c := s.Current
		fmt.Fprintf(&b, "- %s: %.1f°C, %s, humidity %.0f%%, wind %.0f km/h, precipitation %.0f%%\n",
			s.Source, c.Temperature, describe(c), c.Humidity, c.WindSpeed, c.PrecipitationProbability)
	}
	if len(aggregated.Daily) > 0 {
		b.WriteString("\nAggregated daily outlook:\n")
		for i, d := range aggregated.Daily {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s: %.0f to %.0f°C, %s, precipitation %.0f%%\n",
				d.Date.Format("Mon Jan 2"), d.Low, d.High, strings.ReplaceAll(string(d.Condition), "_", " "), d.PrecipitationProbability)
		}
	}
	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"summary": "<two or three sentences>", "confidence": <0-100>, "insights": ["<short tip>", ...]}`)
	return b.String()
}
