package models

import "encoding/json"

// CachedWeatherData is one offline cache record. ID is derived from the rounded coordinates,
// Data is an opaque snapshot of the weather payload, Timestamp is write time in epoch milliseconds.
type CachedWeatherData struct {
	ID           string          `json:"id"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	LocationName string          `json:"locationName"`
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"`
}
