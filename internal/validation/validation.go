package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrCoordinatesRequired is returned when lat or lon is missing.
var ErrCoordinatesRequired = errors.New("lat and lon are required")

// ErrCoordinatesInvalid is returned when lat or lon is not a finite number.
var ErrCoordinatesInvalid = errors.New("lat and lon must be numbers")

// ErrLatitudeRange is returned when latitude is outside [-90, 90].
var ErrLatitudeRange = errors.New("lat must be between -90 and 90")

// ErrLongitudeRange is returned when longitude is outside [-180, 180].
var ErrLongitudeRange = errors.New("lon must be between -180 and 180")

// ErrLocationTooLong is returned when the location name exceeds the maximum.
var ErrLocationTooLong = errors.New("location name too long")

// ErrLocationInvalidChars is returned when the location name contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location name contains invalid characters")

// ErrViewerIDInvalid is returned for viewer IDs that are too long or not printable ASCII.
var ErrViewerIDInvalid = errors.New("viewer id is invalid")

type coordinateQuery struct {
	Lat string `validate:"required"`
	Lon string `validate:"required"`
}

type coordinates struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

// ParseCoordinates parses and range-checks the lat/lon query values.
// Errors are suitable for 400 INVALID_LOCATION responses.
func ParseCoordinates(latRaw, lonRaw string) (lat, lon float64, err error) {
	q := coordinateQuery{Lat: strings.TrimSpace(latRaw), Lon: strings.TrimSpace(lonRaw)}
	if err := validate.Struct(q); err != nil {
		return 0, 0, ErrCoordinatesRequired
	}
	lat, err = strconv.ParseFloat(q.Lat, 64)
	if err != nil {
		return 0, 0, ErrCoordinatesInvalid
	}
	lon, err = strconv.ParseFloat(q.Lon, 64)
	if err != nil {
		return 0, 0, ErrCoordinatesInvalid
	}
	if err := validate.Struct(coordinates{Lat: lat, Lon: lon}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Lon" {
			return 0, 0, ErrLongitudeRange
		}
		return 0, 0, ErrLatitudeRange
	}
	return lat, lon, nil
}

// ValidateLocationName trims the display name and checks it. An empty name is allowed and
// returned as "". Allowed: letters (Unicode), digits, space, comma, hyphen, period, apostrophe.
func ValidateLocationName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if maxLen > 0 && len([]rune(s)) > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range s {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// ValidateViewerID checks the X-Viewer-ID value. Empty means anonymous and is valid.
func ValidateViewerID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if strings.ContainsRune(id, ' ') {
		return "", ErrViewerIDInvalid
	}
	if err := validate.Var(id, "omitempty,max=128,printascii"); err != nil {
		return "", ErrViewerIDInvalid
	}
	return id, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
