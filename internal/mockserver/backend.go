package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/jpeg" // register decoders for dimension probing
	_ "image/png"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

// FailParameter makes an algorithm run fail with the parameter's string
// value as the error message.
const FailParameter = "simulate_error"

var progressSteps = []float64{25, 50, 75, 100}

// Notify receives duplex events produced while a request runs.
type Notify func(wsclient.Message)

type storedImage struct {
	info types.ImageInfo
	data []byte
}

// Backend is the in-memory image store and placeholder segmenter behind the
// HTTP and duplex surfaces.
type Backend struct {
	opts  Options
	algos map[string]types.AlgorithmInfo
	order []string
	cache *gocache.Cache

	mu          sync.RWMutex
	images      map[string]*storedImage
	imageOrder  []string
	results     []types.StoredResult
	resultFiles map[string]string
}

// NewBackend returns an empty backend serving opts.Catalog.
func NewBackend(opts Options) *Backend {
	opts = opts.withDefaults()
	b := &Backend{
		opts:        opts,
		algos:       make(map[string]types.AlgorithmInfo, len(opts.Catalog)),
		cache:       gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		images:      make(map[string]*storedImage),
		resultFiles: make(map[string]string),
	}
	for _, a := range opts.Catalog {
		if _, dup := b.algos[a.Name]; !dup {
			b.order = append(b.order, a.Name)
		}
		b.algos[a.Name] = a
	}
	return b
}

func (b *Backend) Algorithms() []types.AlgorithmInfo {
	out := make([]types.AlgorithmInfo, 0, len(b.order))
	for _, n := range b.order {
		out = append(out, b.algos[n])
	}
	return out
}

func (b *Backend) Algorithm(name string) (types.AlgorithmInfo, bool) {
	a, ok := b.algos[name]
	return a, ok
}

// StoreImage validates and stores an upload. An empty or generic content
// type is replaced by the sniffed one.
func (b *Backend) StoreImage(filename, contentType string, data []byte) (types.ImageInfo, error) {
	if int64(len(data)) > b.opts.MaxUploadBytes {
		return types.ImageInfo{}, tooLarge("File too large. Maximum size: %d bytes", b.opts.MaxUploadBytes)
	}
	if len(data) == 0 {
		return types.ImageInfo{}, badRequest("Empty file")
	}
	ct := normalizeType(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeType(mimetype.Detect(data).String())
	}
	if !types.IsAllowedImageType(ct) {
		return types.ImageInfo{}, badRequest("Invalid file type. Allowed types: %s", strings.Join(types.AllowedImageTypes, ", "))
	}

	id := uuid.NewString()
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		if mt := mimetype.Lookup(ct); mt != nil {
			ext = mt.Extension()
		}
	}
	stored := id + ext
	info := types.ImageInfo{
		ID:               id,
		Filename:         stored,
		OriginalFilename: filename,
		URL:              "/static/uploads/" + stored,
		ContentType:      ct,
		Size:             int64(len(data)),
		Dimensions:       dimensions(data),
		CreatedAt:        b.opts.Now().UTC().Format(time.RFC3339),
	}

	b.mu.Lock()
	b.images[id] = &storedImage{info: info, data: data}
	b.imageOrder = append(b.imageOrder, id)
	b.mu.Unlock()
	logger().Info().Str("image_id", id).Str("file", filename).Int("size", len(data)).Msg("image stored")
	return info, nil
}

func normalizeType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// dimensions reads width and height from the header of formats the standard
// decoders know. Other formats report zero.
func dimensions(data []byte) [2]int {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return [2]int{}
	}
	return [2]int{cfg.Width, cfg.Height}
}

func (b *Backend) Image(id string) (types.ImageInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.images[id]
	if !ok {
		return types.ImageInfo{}, false
	}
	return img.info, true
}

// ListImages pages through stored images, newest first.
func (b *Backend) ListImages(limit, offset int) types.ImageListPage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := make([]types.ImageInfo, 0, len(b.imageOrder))
	for i := len(b.imageOrder) - 1; i >= 0; i-- {
		all = append(all, b.images[b.imageOrder[i]].info)
	}
	return types.ImageListPage{Images: page(all, limit, offset), TotalCount: len(all), Offset: offset, Limit: limit}
}

// Upload returns the bytes behind a /static/uploads file name.
func (b *Backend) Upload(filename string) ([]byte, string, bool) {
	id := strings.TrimSuffix(filename, path.Ext(filename))
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.images[id]
	if !ok || img.info.Filename != filename {
		return nil, "", false
	}
	return img.data, img.info.ContentType, true
}

// ResultFile returns the placeholder bytes behind a /static/results file
// name: the source image of that run.
func (b *Backend) ResultFile(filename string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.resultFiles[filename]
	if !ok {
		return nil, "", false
	}
	img, ok := b.images[id]
	if !ok {
		return nil, "", false
	}
	return img.data, img.info.ContentType, true
}

// Segment runs every requested algorithm concurrently. Failed algorithms are
// reported through notify and left out of the response.
func (b *Backend) Segment(ctx context.Context, req types.SegmentationRequest, notify Notify) (*types.SegmentationResponse, error) {
	if notify == nil {
		notify = func(wsclient.Message) {}
	}
	img, ok := b.Image(req.ImageID)
	if !ok {
		return nil, badRequest("Image not found: %s", req.ImageID)
	}
	if len(req.Algorithms) == 0 {
		return nil, badRequest("At least one algorithm is required")
	}
	for _, a := range req.Algorithms {
		if _, ok := b.algos[a.Name]; !ok {
			return nil, badRequest("Unknown algorithm: %s", a.Name)
		}
	}
	if req.ViewMode == "" {
		req.ViewMode = types.ViewSingle
	}
	if !req.ViewMode.Valid() {
		return nil, badRequest("Invalid view mode: %s", req.ViewMode)
	}

	requestID := uuid.NewString()
	start := b.opts.Now()
	results := make([]*types.SegmentationResult, len(req.Algorithms))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range req.Algorithms {
		g.Go(func() error {
			res, err := b.run(gctx, requestID, img, cfg, notify)
			if err != nil {
				// Algorithm failures are per-result; only cancellation aborts.
				return gctx.Err()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &types.SegmentationResponse{
		RequestID:           requestID,
		OriginalImageURL:    img.URL,
		ViewMode:            req.ViewMode,
		TotalProcessingTime: b.opts.Now().Sub(start).Seconds(),
		CreatedAt:           b.opts.Now().UTC().Format(time.RFC3339Nano),
		Results:             []types.SegmentationResult{},
	}
	for _, r := range results {
		if r != nil {
			resp.Results = append(resp.Results, *r)
		}
	}
	b.record(img, resp)
	return resp, nil
}

func (b *Backend) run(ctx context.Context, requestID string, img types.ImageInfo, cfg types.AlgorithmConfig, notify Notify) (*types.SegmentationResult, error) {
	name := cfg.Name
	params := b.algos[name].Defaults()
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	notify(wsclient.SegmentationStart{Algorithm: name, RequestID: requestID})

	if msg, _ := params[FailParameter].(string); msg != "" {
		segmentationsTotal.WithLabelValues(name, "error").Inc()
		notify(wsclient.SegmentationError{AlgorithmName: name, ErrorMessage: msg, RequestID: requestID})
		return nil, fmt.Errorf("%s: %s", name, msg)
	}

	key := cacheKey(name, img.ID, params)
	if v, ok := b.cache.Get(key); ok {
		resultCacheHits.Inc()
		segmentationsTotal.WithLabelValues(name, "cached").Inc()
		res := cloneResult(v.(types.SegmentationResult))
		notify(wsclient.SegmentationComplete{Result: res, RequestID: requestID})
		return &res, nil
	}

	started := b.opts.Now()
	for i, pct := range progressSteps {
		if err := sleepCtx(ctx, b.opts.ProgressDelay); err != nil {
			segmentationsTotal.WithLabelValues(name, "canceled").Inc()
			return nil, err
		}
		eta := float64(len(progressSteps)-i-1) * b.opts.ProgressDelay.Seconds()
		notify(wsclient.SegmentationProgress{AlgorithmName: name, ProgressPercent: pct, EstimatedTimeRemaining: &eta})
	}

	elapsed := b.opts.Now().Sub(started).Seconds()
	segments := segmentsFor(key)
	file := requestID + "_" + name + ".png"
	res := types.SegmentationResult{
		AlgorithmName:  name,
		ResultImageURL: "/static/results/" + file,
		SegmentsCount:  segments,
		ProcessingTime: elapsed,
		ParametersUsed: params,
		Metrics: &types.PerformanceMetrics{
			ProcessingTime:  elapsed,
			MemoryUsage:     float64(img.Width()*img.Height()*4) / (1 << 20),
			SegmentsCount:   segments,
			AlgorithmName:   name,
			ImageDimensions: img.Dimensions,
		},
		CreatedAt: b.opts.Now().UTC().Format(time.RFC3339Nano),
	}
	b.mu.Lock()
	b.resultFiles[file] = img.ID
	b.mu.Unlock()
	b.cache.SetDefault(key, cloneResult(res))
	segmentationsTotal.WithLabelValues(name, "ok").Inc()
	notify(wsclient.SegmentationComplete{Result: res, RequestID: requestID})
	return &res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cacheKey follows seg:{algorithm}:{image}:{params}. Parameters are hashed
// from their canonical JSON, which sorts map keys.
func cacheKey(algo, imageID string, params map[string]any) string {
	raw, _ := json.Marshal(params)
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return fmt.Sprintf("seg:%s:%s:%x", algo, imageID, h.Sum64())
}

// segmentsFor derives a stable placeholder segment count from the key.
func segmentsFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return 20 + int(h.Sum32()%480)
}

func (b *Backend) record(img types.ImageInfo, resp *types.SegmentationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range resp.Results {
		b.results = append(b.results, types.StoredResult{
			ID:                 resp.RequestID + "_" + r.AlgorithmName,
			ImageID:            img.ID,
			ImageFilename:      img.OriginalFilename,
			SegmentationResult: cloneResult(r),
		})
	}
	if over := len(b.results) - maxStoredResults; over > 0 {
		b.results = append([]types.StoredResult(nil), b.results[over:]...)
	}
}

// Batch runs each request in order. Failures are collected per index.
func (b *Backend) Batch(ctx context.Context, reqs []types.SegmentationRequest) (*types.BatchSegmentationResponse, error) {
	if len(reqs) > types.MaxBatchRequests {
		return nil, badRequest("Maximum %d images allowed in batch processing", types.MaxBatchRequests)
	}
	out := &types.BatchSegmentationResponse{
		SuccessfulResults: []types.SegmentationResponse{},
		Errors:            []types.BatchError{},
		TotalRequested:    len(reqs),
	}
	for i, req := range reqs {
		resp, err := b.Segment(ctx, req, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.Errors = append(out.Errors, types.BatchError{Index: i, Error: err.Error()})
			continue
		}
		out.SuccessfulResults = append(out.SuccessfulResults, *resp)
	}
	out.SuccessfulCount = len(out.SuccessfulResults)
	out.ErrorCount = len(out.Errors)
	return out, nil
}

// History pages through stored results, newest first.
func (b *Backend) History(limit, offset int) types.ResultHistoryPage {
	b.mu.RLock()
	all := make([]types.StoredResult, len(b.results))
	for i, r := range b.results {
		all[len(b.results)-1-i] = r
	}
	b.mu.RUnlock()
	return types.ResultHistoryPage{Results: page(all, limit, offset), TotalCount: len(all), Offset: offset, Limit: limit}
}

func (b *Backend) Result(id string) (types.StoredResult, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.results {
		if r.ID == id {
			return r, true
		}
	}
	return types.StoredResult{}, false
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func cloneResult(r types.SegmentationResult) types.SegmentationResult {
	p := make(map[string]any, len(r.ParametersUsed))
	for k, v := range r.ParametersUsed {
		p[k] = v
	}
	r.ParametersUsed = p
	if r.Metrics != nil {
		m := *r.Metrics
		r.Metrics = &m
	}
	return r
}
