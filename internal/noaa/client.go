// Package noaa provides a minimal client for the NOAA/NWS forecast
// API. It resolves a point to its forecast grid and fetches the grid
// forecast, both through the resilient framework, and condenses the
// result into a one-row-per-day summary for persistence.
package noaa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/errors"
	"github.com/rioncm/birdsong-go/internal/httpclient"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/resilient"
)

// Provider is the provider key used for telemetry and breaker state.
const Provider = "noaa"

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "noaa.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "noaa", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize noaa file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "noaa")
		closeLogger = func() error { return nil }
	}
}

// GridPoint identifies the NWS forecast grid cell for a location.
type GridPoint struct {
	GridID string
	GridX  int
	GridY  int
}

// ForecastPeriod is one named period of a grid forecast.
type ForecastPeriod struct {
	Name             string  `json:"name"`
	StartTime        string  `json:"startTime"`
	IsDaytime        bool    `json:"isDaytime"`
	Temperature      float64 `json:"temperature"`
	TemperatureUnit  string  `json:"temperatureUnit"`
	ShortForecast    string  `json:"shortForecast"`
	DetailedForecast string  `json:"detailedForecast"`

	ProbabilityOfPrecipitation struct {
		Value *float64 `json:"value"`
	} `json:"probabilityOfPrecipitation"`
}

// DaySummary condenses a day's forecast periods into one row.
type DaySummary struct {
	Summary       string
	TempHighC     *float64
	TempLowC      *float64
	Precipitation *float64
}

// Client queries the NWS points and gridpoints endpoints. Both share
// one circuit breaker.
type Client struct {
	baseURL string
	http    *httpclient.Client

	pointCaller    *resilient.Caller[*GridPoint]
	forecastCaller *resilient.Caller[[]ForecastPeriod]
}

// New creates a NOAA client from provider settings. The recorder may
// be nil.
func New(settings *conf.ProviderSettings, recorder resilient.Recorder) *Client {
	c := &Client{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		http:    httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout}),
	}
	c.http.SetBeforeRequestHook(func(req *http.Request) {
		req.Header.Set("Accept", "application/geo+json")
	})

	c.pointCaller = resilient.NewCaller[*GridPoint](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[*GridPoint](recorder),
		resilient.WithLogger[*GridPoint](logger))
	c.forecastCaller = resilient.NewCaller[[]ForecastPeriod](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[[]ForecastPeriod](recorder),
		resilient.WithLogger[[]ForecastPeriod](logger),
		resilient.WithBreaker[[]ForecastPeriod](c.pointCaller.Breaker()))

	logger.Info("NOAA client initialized", "base_url", c.baseURL)
	return c
}

// Point resolves a latitude/longitude to its forecast grid cell.
func (c *Client) Point(ctx context.Context, latitude, longitude float64) (*GridPoint, error) {
	key := fmt.Sprintf("point:%.4f,%.4f", latitude, longitude)
	return c.pointCaller.Call(ctx, key, func(ctx context.Context) (*GridPoint, error) {
		endpoint := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, latitude, longitude)
		var payload struct {
			Properties struct {
				GridID string `json:"gridId"`
				GridX  int    `json:"gridX"`
				GridY  int    `json:"gridY"`
			} `json:"properties"`
		}
		if err := c.getJSON(ctx, endpoint, &payload); err != nil {
			return nil, err
		}
		if payload.Properties.GridID == "" {
			return nil, resilient.Permanent(Provider, errors.Newf("point response missing grid identity").
				Component(Provider).
				Category(errors.CategoryNetwork).
				Context("endpoint", endpoint).
				Build())
		}
		return &GridPoint{
			GridID: payload.Properties.GridID,
			GridX:  payload.Properties.GridX,
			GridY:  payload.Properties.GridY,
		}, nil
	})
}

// Forecast fetches the period forecast for a grid cell.
func (c *Client) Forecast(ctx context.Context, grid *GridPoint) ([]ForecastPeriod, error) {
	if grid == nil {
		return nil, errors.Newf("grid point is required").
			Component(Provider).
			Category(errors.CategoryValidation).
			Build()
	}
	key := fmt.Sprintf("forecast:%s/%d,%d", grid.GridID, grid.GridX, grid.GridY)
	return c.forecastCaller.Call(ctx, key, func(ctx context.Context) ([]ForecastPeriod, error) {
		endpoint := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", c.baseURL, grid.GridID, grid.GridX, grid.GridY)
		var payload struct {
			Properties struct {
				Periods []ForecastPeriod `json:"periods"`
			} `json:"properties"`
		}
		if err := c.getJSON(ctx, endpoint, &payload); err != nil {
			return nil, err
		}
		return payload.Properties.Periods, nil
	})
}

// DayForecast resolves the location and condenses the current day's
// periods into a single summary.
func (c *Client) DayForecast(ctx context.Context, latitude, longitude float64, day time.Time) (*DaySummary, error) {
	grid, err := c.Point(ctx, latitude, longitude)
	if err != nil {
		return nil, err
	}
	periods, err := c.Forecast(ctx, grid)
	if err != nil {
		return nil, err
	}
	summary := SummarizeDay(periods, day)
	if summary == nil {
		return nil, resilient.NotFound(Provider, errors.Newf("no forecast periods for %s", day.Format("2006-01-02")).
			Component(Provider).
			Category(errors.CategoryNotFound).
			Build())
	}
	return summary, nil
}

// Breaker exposes the shared circuit breaker for diagnostics.
func (c *Client) Breaker() *resilient.CircuitBreaker {
	return c.pointCaller.Breaker()
}

// Close releases pooled connections and the service log file.
func (c *Client) Close() {
	c.http.Close()
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing noaa logger: %v", err)
		}
	}
}

// SummarizeDay folds the periods that start on the given local day
// into one row: daytime short forecast, high/low in Celsius, max
// precipitation probability. Returns nil when no period matches.
func SummarizeDay(periods []ForecastPeriod, day time.Time) *DaySummary {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	var out *DaySummary
	for i := range periods {
		p := &periods[i]
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			continue
		}
		local := start.In(day.Location())
		if !time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, day.Location()).Equal(dayStart) {
			continue
		}

		if out == nil {
			out = &DaySummary{}
		}
		tempC := toCelsius(p.Temperature, p.TemperatureUnit)
		if p.IsDaytime {
			if out.Summary == "" {
				out.Summary = p.ShortForecast
			}
			if out.TempHighC == nil || tempC > *out.TempHighC {
				out.TempHighC = &tempC
			}
		} else {
			if out.TempLowC == nil || tempC < *out.TempLowC {
				out.TempLowC = &tempC
			}
		}
		if v := p.ProbabilityOfPrecipitation.Value; v != nil {
			if out.Precipitation == nil || *v > *out.Precipitation {
				value := *v
				out.Precipitation = &value
			}
		}
	}
	if out != nil && out.Summary == "" && len(periods) > 0 {
		out.Summary = periods[0].ShortForecast
	}
	return out
}

func toCelsius(value float64, unit string) float64 {
	if strings.EqualFold(unit, "F") {
		return (value - 32) * 5 / 9
	}
	return value
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return resilient.Transient(Provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return resilient.FromHTTPStatus(Provider, resp.StatusCode,
			resilient.RetryAfter(resp.Header.Get("Retry-After")))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilient.Permanent(Provider, errors.Newf("failed to decode response: %v", err).
			Component(Provider).
			Category(errors.CategoryNetwork).
			Context("url", endpoint).
			Build())
	}
	return nil
}
