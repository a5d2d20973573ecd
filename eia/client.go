// Package eia fetches monthly retail sales from the EIA v2 API and normalizes the response
// into observations.
package eia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.eia.gov/v2/electricity/retail-sales/data/"
	DefaultStateID   = "NJ"
	DefaultSectorID  = "RES"
	DefaultDataField = "sales"

	monthPageLength = 100
	rangePageLength = 5000
	maxBodyBytes    = 32 << 20
)

var ErrMissingAPIKey = errors.New("eia api key is not set")

// Options configures the provider client.
type Options struct {
	BaseURL           string
	APIKey            string
	StateID           string
	SectorID          string
	DataField         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewDefaultOptions returns options for New Jersey residential sales without an API key.
func NewDefaultOptions() *Options {
	return &Options{
		BaseURL:           DefaultBaseURL,
		StateID:           DefaultStateID,
		SectorID:          DefaultSectorID,
		DataField:         DefaultDataField,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// Payload is one provider response. Raw holds the bytes of the "response" object exactly as
// received so it can be archived. Malformed is set when the body could not be decoded, in
// which case Records is empty.
type Payload struct {
	Raw       []byte
	Records   []map[string]any
	Total     int
	Malformed error
}

// Client is a rate limited EIA v2 client. It never retries.
type Client struct {
	opt        *Options
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New returns a Client. A nil httpClient uses one bounded by opt.Timeout.
func New(opt *Options, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	if opt.APIKey == "" {
		return nil, fmt.Errorf("%w, %w", ErrMissingAPIKey, store.ErrConfiguration)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opt.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opt.RequestsPerSecond > 0 {
		limit = rate.Limit(opt.RequestsPerSecond)
	}
	return &Client{
		opt:        opt,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, max(opt.Burst, 1)),
		logger:     logger,
	}, nil
}

// DataField is the name of the value column requested from the provider.
func (c *Client) DataField() string {
	return c.opt.DataField
}

// FetchMonth requests exactly one month.
func (c *Client) FetchMonth(ctx context.Context, p period.Period) (*Payload, error) {
	return c.fetch(ctx, p, p, monthPageLength)
}

// FetchRange requests every month in [start, end] with a single call.
func (c *Client) FetchRange(ctx context.Context, start, end period.Period) (*Payload, error) {
	return c.fetch(ctx, start, end, rangePageLength)
}

func (c *Client) query(start, end period.Period, length int) url.Values {
	q := url.Values{}
	q.Set("api_key", c.opt.APIKey)
	q.Set("frequency", "monthly")
	q.Set("data[0]", c.opt.DataField)
	q.Set("facets[stateid][]", c.opt.StateID)
	q.Set("facets[sectorid][]", c.opt.SectorID)
	q.Set("start", start.String())
	q.Set("end", end.String())
	q.Set("sort[0][column]", "period")
	q.Set("sort[0][direction]", "asc")
	q.Set("offset", "0")
	q.Set("length", strconv.Itoa(length))
	return q
}

func (c *Client) fetch(ctx context.Context, start, end period.Period, length int) (*Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("unable to wait for rate limiter, %w, %w", err, store.ErrTransientIO)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opt.Timeout)
	defer cancel()

	u, err := url.Parse(c.opt.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q, %w, %w", c.opt.BaseURL, err, store.ErrConfiguration)
	}
	u.RawQuery = c.query(start, end, length).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request, %w, %w", err, store.ErrConfiguration)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("unable to reach provider, %w, %w", err, store.ErrTransientIO)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("unable to read provider response, %w, %w", err, store.ErrTransientIO)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.ProviderRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("provider rejected credentials with status %d, %w", resp.StatusCode, store.ErrConfiguration)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.ProviderRequests.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("provider returned status %d, %w", resp.StatusCode, store.ErrTransientIO)
	}
	metrics.ProviderRequests.WithLabelValues("ok").Inc()

	payload := decodePayload(body)
	if payload.Malformed != nil {
		c.logger.Warn("malformed provider payload",
			zap.String("start", start.String()),
			zap.String("end", end.String()),
			zap.Error(payload.Malformed),
		)
	} else if payload.Total > len(payload.Records) {
		c.logger.Warn("provider returned a partial page",
			zap.Int("total", payload.Total),
			zap.Int("records", len(payload.Records)),
		)
	}
	return payload, nil
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

type response struct {
	Total any              `json:"total"`
	Data  []map[string]any `json:"data"`
}

// decodePayload never fails. A body that is not the expected shape yields an empty payload
// with Malformed set.
func decodePayload(body []byte) *Payload {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &Payload{Raw: body, Malformed: fmt.Errorf("invalid json, %v, %w", err, store.ErrDataQuality)}
	}
	if len(env.Response) == 0 || bytes.Equal(env.Response, []byte("null")) {
		return &Payload{Raw: body, Malformed: fmt.Errorf("missing response object, %w", store.ErrDataQuality)}
	}

	var r response
	dec := json.NewDecoder(bytes.NewReader(env.Response))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return &Payload{Raw: env.Response, Malformed: fmt.Errorf("invalid response object, %v, %w", err, store.ErrDataQuality)}
	}

	return &Payload{
		Raw:     []byte(env.Response),
		Records: r.Data,
		Total:   parseTotal(r.Total),
	}
}

func parseTotal(v any) int {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}
