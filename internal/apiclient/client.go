// Package apiclient is the typed REST client for the segmentation backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"segclient/internal/metrics"
	"segclient/pkg/types"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
	defaultInfoTTL = 5 * time.Minute
	tracerName     = "segclient/apiclient"
)

// Config holds the parameters for creating a Client.
type Config struct {
	// BaseURL is the backend origin, e.g. "http://localhost:8000".
	BaseURL string
	// HTTPClient is optional; a client with Timeout is built when nil.
	HTTPClient *http.Client
	Timeout    time.Duration
	// InfoCacheTTL bounds how long GetImageInfo answers from memory.
	// Negative disables the cache.
	InfoCacheTTL time.Duration
	Logger       *zerolog.Logger
}

// Client talks to the /api/v1 REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	info    *gocache.Cache
	tracer  trace.Tracer
	log     zerolog.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid BaseURL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		tracer:  otel.Tracer(tracerName),
		log:     zerolog.Nop(),
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "apiclient").Logger()
	}
	switch {
	case cfg.InfoCacheTTL == 0:
		c.info = gocache.New(defaultInfoTTL, 2*defaultInfoTTL)
	case cfg.InfoCacheTTL > 0:
		c.info = gocache.New(cfg.InfoCacheTTL, 2*cfg.InfoCacheTTL)
	}
	return c, nil
}

// BaseURL returns the configured origin without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveURL turns a backend-relative path such as a result image URL into
// an absolute URL. Absolute inputs are returned unchanged.
func (c *Client) ResolveURL(p string) string {
	if p == "" || strings.Contains(p, "://") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return c.baseURL + p
}

// Health calls GET /health (no API prefix).
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if err := c.get(ctx, "health", "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetImageInfo fetches metadata for an uploaded image. Successful lookups
// are cached for InfoCacheTTL since images are immutable.
func (c *Client) GetImageInfo(ctx context.Context, id string) (*types.ImageInfo, error) {
	if c.info != nil {
		if v, ok := c.info.Get(id); ok {
			img := v.(types.ImageInfo)
			return &img, nil
		}
	}
	var img types.ImageInfo
	if err := c.get(ctx, "image_info", apiPrefix+"/images/info/"+url.PathEscape(id), &img); err != nil {
		return nil, err
	}
	c.remember(img)
	return &img, nil
}

// ListAlgorithms returns the backend catalog.
func (c *Client) ListAlgorithms(ctx context.Context) ([]types.AlgorithmInfo, error) {
	var resp types.AlgorithmsListResponse
	if err := c.get(ctx, "list_algorithms", apiPrefix+"/segmentation/algorithms", &resp); err != nil {
		return nil, err
	}
	return resp.Algorithms, nil
}

// GetAlgorithm returns one catalog entry.
func (c *Client) GetAlgorithm(ctx context.Context, name string) (*types.AlgorithmInfo, error) {
	var info types.AlgorithmInfo
	if err := c.get(ctx, "get_algorithm", apiPrefix+"/segmentation/algorithms/"+url.PathEscape(name), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Segment runs every algorithm in req against one image.
func (c *Client) Segment(ctx context.Context, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
	var resp types.SegmentationResponse
	if err := c.post(ctx, "segment", apiPrefix+"/segmentation/segment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchSegment submits up to types.MaxBatchRequests requests at once. Per
// request failures are reported in the response, not as an error.
func (c *Client) BatchSegment(ctx context.Context, reqs []types.SegmentationRequest) (*types.BatchSegmentationResponse, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("apiclient: batch is empty")
	}
	if len(reqs) > types.MaxBatchRequests {
		return nil, fmt.Errorf("apiclient: batch of %d exceeds limit of %d", len(reqs), types.MaxBatchRequests)
	}
	var resp types.BatchSegmentationResponse
	if err := c.post(ctx, "batch_segment", apiPrefix+"/segmentation/batch", reqs, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResultsHistory pages through stored results.
func (c *Client) ResultsHistory(ctx context.Context, limit, offset int) (*types.ResultHistoryPage, error) {
	var page types.ResultHistoryPage
	if err := c.get(ctx, "results_history", apiPrefix+"/segmentation/results/history"+pageQuery(limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetResult fetches one stored result.
func (c *Client) GetResult(ctx context.Context, id string) (*types.StoredResult, error) {
	var res types.StoredResult
	if err := c.get(ctx, "get_result", apiPrefix+"/segmentation/results/"+url.PathEscape(id), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListImages pages through uploaded images.
func (c *Client) ListImages(ctx context.Context, limit, offset int) (*types.ImageListPage, error) {
	var page types.ImageListPage
	if err := c.get(ctx, "list_images", apiPrefix+"/segmentation/list"+pageQuery(limit, offset), &page); err != nil {
		return nil, err
	}
	for _, img := range page.Images {
		c.remember(img)
	}
	return &page, nil
}

func (c *Client) remember(img types.ImageInfo) {
	if c.info != nil && img.ID != "" {
		c.info.SetDefault(img.ID, img)
	}
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, op, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("apiclient: create request: %w", err)
	}
	return c.do(ctx, op, req, dest)
}

func (c *Client) post(ctx context.Context, op, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("apiclient: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("apiclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, op, req, dest)
}

// do executes req inside a client span and records metrics.
func (c *Client) do(ctx context.Context, op string, req *http.Request, dest any) error {
	ctx, span := c.tracer.Start(ctx, "apiclient."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(op, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn().Err(err).Str("op", op).Msg("request failed")
		return fmt.Errorf("apiclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveRequest(op, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := handleResponse(resp, dest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug().Err(err).Str("op", op).Int("status", resp.StatusCode).Msg("request rejected")
		return err
	}
	return nil
}

func handleResponse(resp *http.Response, dest any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("apiclient: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// errorBody accepts {"detail": "..."} as well as {"error": "...", "code": N}.
// detail may also be a list of validation issues.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Code    any             `json:"code"`
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode, Code: http.StatusText(statusCode)}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	switch {
	case len(eb.Detail) > 0:
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil {
			apiErr.Message = s
		} else {
			apiErr.Message = string(eb.Detail)
		}
	case eb.Error != "":
		apiErr.Message = eb.Error
	case eb.Message != "":
		apiErr.Message = eb.Message
	default:
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if s, ok := eb.Code.(string); ok && s != "" {
		apiErr.Code = s
	}
	return apiErr
}
