package client

import (
	"testing"

	"github.com/kjstillabower/rainz/internal/models"
)

func TestConditionMapping(t *testing.T) {
	tests := []struct {
		name string
		fn   func(int) models.Condition
		code int
		want models.Condition
	}{
		{"wmo clear", wmoCondition, 0, models.ConditionClear},
		{"wmo partly", wmoCondition, 2, models.ConditionPartlyCloudy},
		{"wmo fog", wmoCondition, 48, models.ConditionFog},
		{"wmo drizzle", wmoCondition, 53, models.ConditionDrizzle},
		{"wmo showers", wmoCondition, 81, models.ConditionRain},
		{"wmo snow showers", wmoCondition, 86, models.ConditionSnow},
		{"wmo thunder", wmoCondition, 95, models.ConditionStorm},
		{"wmo unknown", wmoCondition, 42, models.ConditionUnknown},
		{"owm thunder", openWeatherCondition, 211, models.ConditionStorm},
		{"owm mist", openWeatherCondition, 701, models.ConditionFog},
		{"owm clear", openWeatherCondition, 800, models.ConditionClear},
		{"owm overcast", openWeatherCondition, 804, models.ConditionCloudy},
		{"tomorrow mostly clear", tomorrowCondition, 1100, models.ConditionPartlyCloudy},
		{"tomorrow freezing rain", tomorrowCondition, 6001, models.ConditionRain},
		{"tomorrow ice pellets", tomorrowCondition, 7000, models.ConditionSnow},
		{"tomorrow thunder", tomorrowCondition, 8000, models.ConditionStorm},
		{"weatherapi sunny", weatherAPICondition, 1000, models.ConditionClear},
		{"weatherapi mist", weatherAPICondition, 1030, models.ConditionFog},
		{"weatherapi heavy snow", weatherAPICondition, 1225, models.ConditionSnow},
		{"weatherapi thunder", weatherAPICondition, 1276, models.ConditionStorm},
		{"weatherapi unknown", weatherAPICondition, 9999, models.ConditionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.code); got != tt.want {
				t.Errorf("code %d = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestDominantCondition_TieGoesToSevere(t *testing.T) {
	votes := map[models.Condition]int{models.ConditionClear: 2, models.ConditionRain: 2, models.ConditionCloudy: 1}
	if got := dominantCondition(votes); got != models.ConditionRain {
		t.Errorf("dominantCondition() = %q, want rain", got)
	}
}
