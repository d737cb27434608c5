// Package wikimedia provides a client for the Wikipedia REST summary
// endpoint and the Wikimedia Commons media search, routed through the
// resilient call framework. Summaries supply species copy; Commons
// supplies a licensed image with attribution.
package wikimedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/errors"
	"github.com/rioncm/birdsong-go/internal/httpclient"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/resilient"
)

// Provider is the provider key used for telemetry and breaker state.
const Provider = "wikimedia"

const defaultCommonsBaseURL = "https://commons.wikimedia.org/w/rest.php/v1"

// searchLimit bounds how many Commons search hits are examined for a
// usable file.
const searchLimit = 5

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "wikimedia.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "wikimedia", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize wikimedia file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "wikimedia")
		closeLogger = func() error { return nil }
	}
}

// Summary is a page summary from the Wikipedia REST API.
type Summary struct {
	Title        string
	Extract      string
	PageURL      string
	ThumbnailURL string
}

// Media is a licensed image resolved through Wikimedia Commons.
type Media struct {
	Title          string
	ImageURL       string
	ThumbnailURL   string
	LicenseCode    string
	Attribution    string
	AttributionURL string
	PageURL        string
}

// Client queries Wikipedia summaries and Commons media. Both endpoint
// families share one circuit breaker.
type Client struct {
	summaryBaseURL string
	commonsBaseURL string
	http           *httpclient.Client

	summaryCaller *resilient.Caller[*Summary]
	mediaCaller   *resilient.Caller[*Media]
}

// Option customizes a Client.
type Option func(*Client)

// WithCommonsBaseURL overrides the Commons REST base URL.
func WithCommonsBaseURL(baseURL string) Option {
	return func(c *Client) { c.commonsBaseURL = strings.TrimRight(baseURL, "/") }
}

// New creates a Wikimedia client from provider settings. The recorder
// may be nil.
func New(settings *conf.ProviderSettings, recorder resilient.Recorder, opts ...Option) *Client {
	c := &Client{
		summaryBaseURL: strings.TrimRight(settings.BaseURL, "/"),
		commonsBaseURL: defaultCommonsBaseURL,
		http:           httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.summaryCaller = resilient.NewCaller[*Summary](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[*Summary](recorder),
		resilient.WithLogger[*Summary](logger))
	c.mediaCaller = resilient.NewCaller[*Media](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[*Media](recorder),
		resilient.WithLogger[*Media](logger),
		resilient.WithBreaker[*Media](c.summaryCaller.Breaker()))

	logger.Info("Wikimedia client initialized",
		"summary_base_url", c.summaryBaseURL,
		"commons_base_url", c.commonsBaseURL)
	return c
}

// Summary fetches the page summary for a title. Missing pages are
// not-found provider errors cached as negative entries.
func (c *Client) Summary(ctx context.Context, title string) (*Summary, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Newf("title must not be empty").
			Component(Provider).
			Category(errors.CategoryValidation).
			Build()
	}

	return c.summaryCaller.Call(ctx, "summary:"+title, func(ctx context.Context) (*Summary, error) {
		endpoint := c.summaryBaseURL + "/page/summary/" + url.PathEscape(pageTitle(title))
		var payload struct {
			Title       string `json:"title"`
			Extract     string `json:"extract"`
			ContentURLs struct {
				Desktop struct {
					Page string `json:"page"`
				} `json:"desktop"`
			} `json:"content_urls"`
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		}
		if err := c.getJSON(ctx, endpoint, &payload); err != nil {
			return nil, err
		}
		if payload.Title == "" || payload.Extract == "" {
			return nil, resilient.NotFound(Provider, errors.Newf("summary payload missing title or extract").
				Component(Provider).
				Category(errors.CategoryNotFound).
				Build())
		}
		return &Summary{
			Title:        payload.Title,
			Extract:      payload.Extract,
			PageURL:      payload.ContentURLs.Desktop.Page,
			ThumbnailURL: payload.Thumbnail.Source,
		}, nil
	})
}

// Media searches Commons for the title and resolves the first search
// hit that yields a usable image file.
func (c *Client) Media(ctx context.Context, title string) (*Media, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Newf("title must not be empty").
			Component(Provider).
			Category(errors.CategoryValidation).
			Build()
	}

	return c.mediaCaller.Call(ctx, "media:"+title, func(ctx context.Context) (*Media, error) {
		hits, err := c.searchCommons(ctx, title)
		if err != nil {
			return nil, err
		}

		for _, hit := range hits {
			if hit.Key == "" {
				continue
			}
			media, err := c.fetchFile(ctx, hit.Key)
			if err != nil {
				if resilient.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			if media != nil {
				return media, nil
			}
		}
		return nil, resilient.NotFound(Provider, errors.Newf("no usable Commons image for %q", title).
			Component(Provider).
			Category(errors.CategoryImageProvider).
			Build())
	})
}

// Breaker exposes the shared circuit breaker for diagnostics.
func (c *Client) Breaker() *resilient.CircuitBreaker {
	return c.summaryCaller.Breaker()
}

// Close releases pooled connections and the service log file.
func (c *Client) Close() {
	c.http.Close()
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing wikimedia logger: %v", err)
		}
	}
}

type searchHit struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

func (c *Client) searchCommons(ctx context.Context, query string) ([]searchHit, error) {
	endpoint := fmt.Sprintf("%s/search/page?q=%s&limit=%d",
		c.commonsBaseURL, url.QueryEscape(query), searchLimit)
	var payload struct {
		Pages []searchHit `json:"pages"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Pages, nil
}

// fetchFile resolves one Commons file entry. A nil, nil return means
// the file exists but carries no usable image URL.
func (c *Client) fetchFile(ctx context.Context, key string) (*Media, error) {
	fileKey := key
	if !strings.HasPrefix(fileKey, "File:") {
		fileKey = "File:" + fileKey
	}
	fileKey = strings.ReplaceAll(fileKey, " ", "_")

	endpoint := c.commonsBaseURL + "/file/" + url.PathEscape(fileKey)
	var payload struct {
		Title     string `json:"title"`
		Preferred struct {
			URL string `json:"url"`
		} `json:"preferred"`
		Original struct {
			URL string `json:"url"`
		} `json:"original"`
		Thumbnail struct {
			URL string `json:"url"`
		} `json:"thumbnail"`
		FileDescriptionURL string `json:"file_description_url"`
		License            struct {
			SPDX      string `json:"spdx"`
			ShortName string `json:"short_name"`
			Code      string `json:"code"`
			Name      string `json:"name"`
		} `json:"license"`
		Latest struct {
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"latest"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	imageURL := payload.Preferred.URL
	if imageURL == "" {
		imageURL = payload.Original.URL
	}
	if imageURL == "" {
		return nil, nil
	}

	pageURL := payload.FileDescriptionURL
	if strings.HasPrefix(pageURL, "//") {
		pageURL = "https:" + pageURL
	}

	media := &Media{
		Title:        payload.Title,
		ImageURL:     imageURL,
		ThumbnailURL: payload.Thumbnail.URL,
		LicenseCode:  firstNonEmpty(payload.License.SPDX, payload.License.ShortName, payload.License.Code, payload.License.Name),
		PageURL:      pageURL,
	}
	if name := strings.TrimSpace(payload.Latest.User.Name); name != "" {
		media.Attribution = name
		media.AttributionURL = "https://commons.wikimedia.org/wiki/User:" + strings.ReplaceAll(name, " ", "_")
	}
	return media, nil
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
			Category(errors.CategoryImageProvider).
			Context("url", endpoint).
			Build())
	}
	return nil
}

// pageTitle converts a display name into wiki title form.
func pageTitle(title string) string {
	return strings.ReplaceAll(title, " ", "_")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
