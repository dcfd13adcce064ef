package models

import "time"

// Condition is a normalized high-level weather condition shared by every provider.
type Condition string

const (
	ConditionUnknown      Condition = "unknown"
	ConditionClear        Condition = "clear"
	ConditionPartlyCloudy Condition = "partly_cloudy"
	ConditionCloudy       Condition = "cloudy"
	ConditionFog          Condition = "fog"
	ConditionDrizzle      Condition = "drizzle"
	ConditionRain         Condition = "rain"
	ConditionSnow         Condition = "snow"
	ConditionStorm        Condition = "storm"
)

// Location identifies the place a forecast was requested for.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CurrentConditions is a provider's view of the weather right now. Metric units throughout:
// Celsius, percent, km/h, hPa, km.
type CurrentConditions struct {
	Temperature              float64   `json:"temperature"`
	FeelsLike                float64   `json:"feelsLike"`
	Humidity                 float64   `json:"humidity"`
	WindSpeed                float64   `json:"windSpeed"`
	WindDirection            float64   `json:"windDirection"`
	Pressure                 float64   `json:"pressure"`
	UVIndex                  float64   `json:"uvIndex"`
	Visibility               float64   `json:"visibility"`
	PrecipitationProbability float64   `json:"precipitationProbability"`
	Condition                Condition `json:"condition"`
	Description              string    `json:"description"`
	ObservedAt               time.Time `json:"observedAt"`
}

// HourlyForecast is one hourly slot.
type HourlyForecast struct {
	Time                     time.Time `json:"time"`
	Temperature              float64   `json:"temperature"`
	PrecipitationProbability float64   `json:"precipitationProbability"`
	WindSpeed                float64   `json:"windSpeed"`
	Condition                Condition `json:"condition"`
}

// DailyForecast is one calendar day. Date is midnight UTC of that day.
type DailyForecast struct {
	Date                     time.Time `json:"date"`
	High                     float64   `json:"high"`
	Low                      float64   `json:"low"`
	PrecipitationProbability float64   `json:"precipitationProbability"`
	Condition                Condition `json:"condition"`
}

// SourceForecast is a single provider's forecast normalized into the common shape.
type SourceForecast struct {
	Source    string            `json:"source"`
	Current   CurrentConditions `json:"current"`
	Hourly    []HourlyForecast  `json:"hourly,omitempty"`
	Daily     []DailyForecast   `json:"daily,omitempty"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// Enhancement is the narrative layer produced from the aggregated sources.
type Enhancement struct {
	Summary    string   `json:"summary"`
	Insights   []string `json:"insights,omitempty"`
	Confidence float64  `json:"confidence"`
	Agreement  float64  `json:"agreement"`
	Model      string   `json:"model,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
}

// WeatherResponse is the full payload returned for a location: every source, the most
// accurate pick, the aggregated composite and the enhancement.
type WeatherResponse struct {
	Location     Location         `json:"location"`
	Sources      []SourceForecast `json:"sources"`
	MostAccurate SourceForecast   `json:"mostAccurate"`
	Aggregated   SourceForecast   `json:"aggregated"`
	Enhancement  Enhancement      `json:"enhancement"`
	FetchedAt    time.Time        `json:"fetchedAt"`
}
