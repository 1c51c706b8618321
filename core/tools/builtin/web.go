package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/koscakluka/ema-desk/core/tools"
)

const (
	DefaultWeatherURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultLocationURL = "https://ipinfo.io/json"

	defaultPageChars = 1500
	maxPageBytes     = 2 << 20
	userAgent        = "ema-desk"
)

var weatherCodes = map[int]string{
	0:  "clear sky",
	1:  "mostly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "foggy",
	48: "freezing fog",
	51: "light drizzle",
	53: "moderate drizzle",
	55: "dense drizzle",
	56: "light freezing drizzle",
	57: "freezing drizzle",
	61: "light rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "light freezing rain",
	67: "freezing rain",
	71: "light snow",
	73: "moderate snow",
	75: "heavy snow",
	77: "snow grains",
	80: "light rain showers",
	81: "rain showers",
	82: "violent rain showers",
	85: "light snow showers",
	86: "snow showers",
	95: "thunderstorm",
	96: "thunderstorm with hail",
	99: "severe thunderstorm with hail",
}

// hiddenElements never carry readable page text.
const hiddenElements = "script, style, noscript, template, svg, iframe, canvas, form, input, button"

type WebOption func(*webTools)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) WebOption {
	return func(w *webTools) { w.client = client }
}

func WithWeatherURL(url string) WebOption {
	return func(w *webTools) { w.weatherURL = url }
}

func WithLocationURL(url string) WebOption {
	return func(w *webTools) { w.locationURL = url }
}

type webTools struct {
	client      *http.Client
	weatherURL  string
	locationURL string
}

type locationArgs struct{}

type weatherArgs struct {
	Latitude  *float64 `json:"lat,omitempty" jsonschema:"description=Latitude in degrees. Leave out together with lon to use the user's approximate location"`
	Longitude *float64 `json:"lon,omitempty" jsonschema:"description=Longitude in degrees"`
}

type webAccessArgs struct {
	URL      string `json:"url" jsonschema:"required,description=Address of the page to read"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Longest excerpt to return. Defaults to 1500"`
}

// Web exposes network lookups to the model as get_location, get_weather
// and web_access.
func Web(opts ...WebOption) []tools.Tool {
	w := &webTools{
		weatherURL:  DefaultWeatherURL,
		locationURL: DefaultLocationURL,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		w.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, request *http.Request) string {
				return "tool " + request.URL.Host
			}),
		)}
	}

	return []tools.Tool{
		tools.NewTool("get_location", "Get the user's approximate city, region, country and coordinates",
			func(ctx context.Context, _ locationArgs) (tools.Result, error) {
				here, err := w.location(ctx)
				if err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: fmt.Sprintf("You appear to be in %s.", here.place()),
					Data:    here,
				}, nil
			}),
		tools.NewTool("get_weather", "Get the current weather for a place",
			func(ctx context.Context, args weatherArgs) (tools.Result, error) {
				return w.weather(ctx, args)
			}),
		tools.NewTool("web_access", "Read the visible text of a web page",
			func(ctx context.Context, args webAccessArgs) (tools.Result, error) {
				return w.readPage(ctx, args)
			}),
	}
}

type location struct {
	City      string   `json:"city"`
	Region    string   `json:"region"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
}

func (l location) place() string {
	parts := slices.DeleteFunc([]string{l.City, l.Region, l.Country}, func(part string) bool { return part == "" })
	if len(parts) == 0 {
		return "an unknown place"
	}
	return strings.Join(parts, ", ")
}

func (w *webTools) location(ctx context.Context) (location, error) {
	var payload struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
		Loc     string `json:"loc"`
	}
	if err := w.getJSON(ctx, w.locationURL, &payload); err != nil {
		return location{}, fmt.Errorf("location lookup failed: %w", err)
	}

	result := location{City: payload.City, Region: payload.Region, Country: payload.Country}
	if lat, lon, ok := strings.Cut(payload.Loc, ","); ok {
		latitude, latErr := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		longitude, lonErr := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if latErr == nil && lonErr == nil {
			result.Latitude, result.Longitude = &latitude, &longitude
		}
	}
	return result, nil
}

func (w *webTools) weather(ctx context.Context, args weatherArgs) (tools.Result, error) {
	latitude, longitude := args.Latitude, args.Longitude
	place := ""
	switch {
	case latitude == nil && longitude == nil:
		here, err := w.location(ctx)
		if err != nil {
			return tools.Result{}, err
		}
		if here.Latitude == nil || here.Longitude == nil {
			return tools.Result{}, errors.New("could not work out where you are, ask for a place")
		}
		latitude, longitude, place = here.Latitude, here.Longitude, here.place()
	case latitude == nil || longitude == nil:
		return tools.Result{}, errors.New("lat and lon must be given together")
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(*latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(*longitude, 'f', -1, 64))
	query.Set("current_weather", "true")
	query.Set("hourly", "relativehumidity_2m")
	query.Set("forecast_days", "1")

	var payload struct {
		Current *struct {
			Temperature float64 `json:"temperature"`
			Windspeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
			Time        string  `json:"time"`
		} `json:"current_weather"`
		Hourly struct {
			Time     []string  `json:"time"`
			Humidity []float64 `json:"relativehumidity_2m"`
		} `json:"hourly"`
	}
	if err := w.getJSON(ctx, w.weatherURL+"?"+query.Encode(), &payload); err != nil {
		return tools.Result{}, fmt.Errorf("weather lookup failed: %w", err)
	}
	if payload.Current == nil {
		return tools.Result{}, errors.New("weather lookup failed: response has no current weather")
	}

	current := payload.Current
	description, ok := weatherCodes[current.WeatherCode]
	if !ok {
		description = "unknown conditions"
	}
	data := map[string]any{
		"temperature_c": current.Temperature,
		"temperature_f": current.Temperature*9/5 + 32,
		"windspeed":     current.Windspeed,
		"weather_code":  current.WeatherCode,
		"description":   description,
	}
	if humidity, ok := humidityAt(payload.Hourly.Time, payload.Hourly.Humidity, current.Time); ok {
		data["humidity_percent"] = humidity
	}

	summary := fmt.Sprintf("It's %.0f°C with %s.", current.Temperature, description)
	if place != "" {
		data["place"] = place
		summary = fmt.Sprintf("In %s it's %.0f°C with %s.", place, current.Temperature, description)
	}
	return tools.Result{Summary: summary, Data: data}, nil
}

// humidityAt picks the hourly reading for at, or the last one.
func humidityAt(times []string, values []float64, at string) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	if i := slices.Index(times, at); i >= 0 && i < len(values) {
		return values[i], true
	}
	return values[len(values)-1], true
}

func (w *webTools) readPage(ctx context.Context, args webAccessArgs) (tools.Result, error) {
	target, err := normalizeURL(args.URL)
	if err != nil {
		return tools.Result{}, err
	}
	limit := args.MaxChars
	if limit <= 0 {
		limit = defaultPageChars
	}

	response, err := w.get(ctx, target)
	if err != nil {
		return tools.Result{}, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer response.Body.Close()

	body := io.LimitReader(response.Body, maxPageBytes)
	var text string
	if mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type")); mediaType == "" || mediaType == "text/html" {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return tools.Result{}, fmt.Errorf("failed to parse %s: %w", target, err)
		}
		doc.Find(hiddenElements).Remove()
		text = doc.Find("body").Text()
		if text == "" {
			text = doc.Text()
		}
	} else {
		raw, err := io.ReadAll(body)
		if err != nil {
			return tools.Result{}, fmt.Errorf("failed to read %s: %w", target, err)
		}
		text = string(raw)
	}

	text = visibleLines(text)
	length := utf8.RuneCountInString(text)
	if length == 0 {
		return tools.Result{
			Summary: "That page has no readable text.",
			Data:    map[string]any{"url": target, "excerpt": "", "length": 0},
		}, nil
	}
	return tools.Result{
		Summary: fmt.Sprintf("Read %d characters from %s.", length, target),
		Data:    map[string]any{"url": target, "excerpt": truncateRunes(text, limit), "length": length, "truncated_to": limit},
	}, nil
}

func (w *webTools) get(ctx context.Context, target string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := w.client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode >= http.StatusBadRequest {
		response.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", response.Status)
	}
	return response, nil
}

func (w *webTools) getJSON(ctx context.Context, target string, v any) error {
	response, err := w.get(ctx, target)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if err := json.NewDecoder(io.LimitReader(response.Body, maxPageBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// normalizeURL accepts bare host names and only http(s) addresses.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	return parsed.String(), nil
}

func visibleLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
