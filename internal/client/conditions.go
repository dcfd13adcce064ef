package client

import "github.com/kjstillabower/rainz/internal/models"

// wmoCondition maps WMO weather interpretation codes (Open-Meteo).
func wmoCondition(code int) models.Condition {
	switch {
	case code == 0:
		return models.ConditionClear
	case code == 1 || code == 2:
		return models.ConditionPartlyCloudy
	case code == 3:
		return models.ConditionCloudy
	case code == 45 || code == 48:
		return models.ConditionFog
	case code >= 51 && code <= 57:
		return models.ConditionDrizzle
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return models.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return models.ConditionSnow
	case code >= 95 && code <= 99:
		return models.ConditionStorm
	default:
		return models.ConditionUnknown
	}
}

// openWeatherCondition maps OpenWeatherMap condition ids.
func openWeatherCondition(id int) models.Condition {
	switch {
	case id >= 200 && id < 300:
		return models.ConditionStorm
	case id >= 300 && id < 400:
		return models.ConditionDrizzle
	case id >= 500 && id < 600:
		return models.ConditionRain
	case id >= 600 && id < 700:
		return models.ConditionSnow
	case id >= 700 && id < 800:
		return models.ConditionFog
	case id == 800:
		return models.ConditionClear
	case id == 801 || id == 802:
		return models.ConditionPartlyCloudy
	case id == 803 || id == 804:
		return models.ConditionCloudy
	default:
		return models.ConditionUnknown
	}
}

// tomorrowCondition maps Tomorrow.io weatherCode values.
func tomorrowCondition(code int) models.Condition {
	switch {
	case code == 1000:
		return models.ConditionClear
	case code == 1100 || code == 1101:
		return models.ConditionPartlyCloudy
	case code == 1001 || code == 1102:
		return models.ConditionCloudy
	case code == 2000 || code == 2100:
		return models.ConditionFog
	case code == 4000:
		return models.ConditionDrizzle
	case code == 4001 || code == 4200 || code == 4201 || (code >= 6000 && code <= 6201):
		return models.ConditionRain
	case (code >= 5000 && code <= 5101) || (code >= 7000 && code <= 7102):
		return models.ConditionSnow
	case code == 8000:
		return models.ConditionStorm
	default:
		return models.ConditionUnknown
	}
}

// weatherAPICondition maps WeatherAPI.com condition codes.
func weatherAPICondition(code int) models.Condition {
	switch code {
	case 1000:
		return models.ConditionClear
	case 1003:
		return models.ConditionPartlyCloudy
	case 1006, 1009:
		return models.ConditionCloudy
	case 1030, 1135, 1147:
		return models.ConditionFog
	case 1072, 1150, 1153, 1168, 1171:
		return models.ConditionDrizzle
	case 1063, 1180, 1183, 1186, 1189, 1192, 1195, 1198, 1201, 1240, 1243, 1246:
		return models.ConditionRain
	case 1066, 1069, 1114, 1117, 1204, 1207, 1210, 1213, 1216, 1219, 1222, 1225, 1237,
		1249, 1252, 1255, 1258, 1261, 1264:
		return models.ConditionSnow
	case 1087, 1273, 1276, 1279, 1282:
		return models.ConditionStorm
	default:
		return models.ConditionUnknown
	}
}
