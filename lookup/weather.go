package lookup

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultForecastURL  = "https://api.open-meteo.com"
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com"
	openMeteoHome       = "https://open-meteo.com/"
)

// Conditions is the payload of a weather result.
type Conditions struct {
	Location    string  `json:"location"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Temperature float64 `json:"temperature"`
	Unit        string  `json:"unit"`
	Code        int     `json:"code"`
	Description string  `json:"description"`
}

// Weather resolves a place name or postal code to current conditions.
type Weather struct {
	opts *options
}

// NewWeather creates the weather adapter backed by open-meteo.
func NewWeather(opts ...Option) *Weather {
	o := newOptions("lookup.weather", DefaultForecastURL, opts)
	if o.geocodeURL == "" {
		o.geocodeURL = DefaultGeocodingURL
	}
	return &Weather{opts: o}
}

func (w *Weather) Kind() Kind { return KindWeather }

func (w *Weather) Lookup(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fail(KindWeather, query, shardErrors.ErrInvalidInput)
	}

	place, err := w.geocode(ctx, query)
	if err != nil {
		return nil, fail(KindWeather, query, err)
	}
	cond, err := w.current(ctx, place)
	if err != nil {
		return nil, fail(KindWeather, query, err)
	}

	return &Result{
		Kind:    KindWeather,
		Query:   query,
		Title:   cond.Location,
		Summary: fmt.Sprintf("Weather in %s: %.1f%s - %s", cond.Location, cond.Temperature, cond.Unit, cond.Description),
		Sources: []Source{{Name: "Open-Meteo", URL: openMeteoHome}},
		Data:    cond,
	}, nil
}

func (w *Weather) geocode(ctx context.Context, name string) (*Conditions, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	body, err := w.opts.get(ctx, strings.TrimRight(w.opts.geocodeURL, "/")+"/v1/search?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}
	hit := gjson.GetBytes(body, "results.0")
	if !hit.Exists() {
		return nil, fmt.Errorf("could not find location %q: %w", name, shardErrors.ErrNotFound)
	}

	var parts []string
	for _, key := range []string{"name", "admin1", "country"} {
		if v := hit.Get(key).String(); v != "" {
			parts = append(parts, v)
		}
	}
	return &Conditions{
		Location:  strings.Join(parts, ", "),
		Latitude:  hit.Get("latitude").Float(),
		Longitude: hit.Get("longitude").Float(),
	}, nil
}

func (w *Weather) current(ctx context.Context, place *Conditions) (*Conditions, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("temperature_unit", "celsius")
	q.Set("timezone", "auto")

	body, err := w.opts.get(ctx, strings.TrimRight(w.opts.baseURL, "/")+"/v1/forecast?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	temp := gjson.GetBytes(body, "current.temperature_2m")
	if !temp.Exists() {
		return nil, fmt.Errorf("forecast response has no current temperature")
	}
	unit := gjson.GetBytes(body, "current_units.temperature_2m").String()
	if unit == "" {
		unit = "°C"
	}
	code := int(gjson.GetBytes(body, "current.weather_code").Int())

	out := *place
	out.Temperature = temp.Float()
	out.Unit = unit
	out.Code = code
	out.Description = describeWeatherCode(code)
	return &out, nil
}

// describeWeatherCode maps WMO weather interpretation codes to text.
func describeWeatherCode(code int) string {
	switch code {
	case 0:
		return "Clear sky"
	case 1:
		return "Mainly clear"
	case 2:
		return "Partly cloudy"
	case 3:
		return "Overcast"
	case 45, 48:
		return "Fog"
	case 51, 53, 55:
		return "Drizzle"
	case 56, 57:
		return "Freezing drizzle"
	case 61, 63, 65:
		return "Rain"
	case 66, 67:
		return "Freezing rain"
	case 71, 73, 75:
		return "Snow fall"
	case 77:
		return "Snow grains"
	case 80, 81, 82:
		return "Rain showers"
	case 85, 86:
		return "Snow showers"
	case 95:
		return "Thunderstorm"
	case 96, 99:
		return "Thunderstorm with hail"
	default:
		return "Unknown conditions"
	}
}
