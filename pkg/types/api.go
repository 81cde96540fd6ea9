package types

// ImageInfo describes an image stored by the backend.
type ImageInfo struct {
	// Backend-assigned identifier.
	// example: 0b7c2f1e-4c1a-4e0b-9d3a-5a2b1f0e9c11
	ID string `json:"id" example:"0b7c2f1e-4c1a-4e0b-9d3a-5a2b1f0e9c11"`
	// Stored filename.
	// example: 0b7c2f1e.png
	Filename string `json:"filename" example:"0b7c2f1e.png"`
	// Filename as uploaded.
	// example: coast.png
	OriginalFilename string `json:"original_filename" example:"coast.png"`
	// URL the image is served from.
	// example: /static/uploads/0b7c2f1e.png
	URL string `json:"url" example:"/static/uploads/0b7c2f1e.png"`
	// MIME type.
	// example: image/png
	ContentType string `json:"content_type" example:"image/png"`
	// Size in bytes.
	// example: 245760
	Size int64 `json:"size" example:"245760"`
	// Width and height in pixels.
	Dimensions [2]int `json:"dimensions"`
	// Creation time (ISO 8601).
	// example: 2025-09-21T10:00:00Z
	CreatedAt string `json:"created_at" example:"2025-09-21T10:00:00Z"`
}

// Width returns the first dimension.
func (i ImageInfo) Width() int { return i.Dimensions[0] }

// Height returns the second dimension.
func (i ImageInfo) Height() int { return i.Dimensions[1] }

// ImageUploadResponse is returned by POST /images/upload.
type ImageUploadResponse struct {
	Success bool       `json:"success"`
	Image   *ImageInfo `json:"image,omitempty"`
	// example: Image uploaded successfully
	Message string `json:"message" example:"Image uploaded successfully"`
}

// ImageListPage is returned by GET /segmentation/list.
type ImageListPage struct {
	Images     []ImageInfo `json:"images"`
	TotalCount int         `json:"total_count"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
}

// ParameterSchema describes one tunable parameter and its default.
type ParameterSchema struct {
	// example: scale
	Name string `json:"name" example:"scale"`
	// Default value.
	Value    any       `json:"value" swaggertype:"number"`
	MinValue *float64  `json:"min_value,omitempty"`
	MaxValue *float64  `json:"max_value,omitempty"`
	Step     *float64  `json:"step,omitempty"`
	Type     ParamType `json:"type" example:"int"`
}

// AlgorithmInfo is a catalog entry.
type AlgorithmInfo struct {
	// example: felzenszwalb
	Name string `json:"name" example:"felzenszwalb"`
	// example: Felzenszwalb
	DisplayName string `json:"display_name" example:"Felzenszwalb"`
	Description string `json:"description"`
	// Parameter schemas keyed by parameter name.
	DefaultParameters map[string]ParameterSchema `json:"default_parameters"`
}

// Defaults returns a fresh map of default parameter values.
func (a AlgorithmInfo) Defaults() map[string]any {
	out := make(map[string]any, len(a.DefaultParameters))
	for k, p := range a.DefaultParameters {
		out[k] = p.Value
	}
	return out
}

// AlgorithmsListResponse wraps GET /segmentation/algorithms.
type AlgorithmsListResponse struct {
	Algorithms []AlgorithmInfo `json:"algorithms"`
}

// AlgorithmConfig is an algorithm selected for processing with its parameters.
type AlgorithmConfig struct {
	// example: slic
	Name string `json:"name" example:"slic"`
	// example: SLIC
	DisplayName string         `json:"display_name" example:"SLIC"`
	Parameters  map[string]any `json:"parameters"`
	IsActive    bool           `json:"is_active"`
}

// Clone returns a deep copy of the config's parameter map.
func (c AlgorithmConfig) Clone() AlgorithmConfig {
	p := make(map[string]any, len(c.Parameters))
	for k, v := range c.Parameters {
		p[k] = v
	}
	c.Parameters = p
	return c
}

// PerformanceMetrics are reported per algorithm run.
type PerformanceMetrics struct {
	ProcessingTime  float64 `json:"processing_time"`
	MemoryUsage     float64 `json:"memory_usage"`
	SegmentsCount   int     `json:"segments_count"`
	AlgorithmName   string  `json:"algorithm_name"`
	ImageDimensions [2]int  `json:"image_dimensions"`
}

// SegmentationResult is the output of one algorithm run.
type SegmentationResult struct {
	// example: felzenszwalb
	AlgorithmName string `json:"algorithm_name" example:"felzenszwalb"`
	// example: /static/results/req_felzenszwalb.png
	ResultImageURL string `json:"result_image_url" example:"/static/results/req_felzenszwalb.png"`
	// example: 245
	SegmentsCount int `json:"segments_count" example:"245"`
	// Seconds.
	// example: 2.3
	ProcessingTime float64             `json:"processing_time" example:"2.3"`
	ParametersUsed map[string]any      `json:"parameters_used"`
	Metrics        *PerformanceMetrics `json:"metrics,omitempty"`
	// example: 2025-09-21T10:30:00Z
	CreatedAt string `json:"created_at" example:"2025-09-21T10:30:00Z"`
}

// Clone copies r so that its parameter map and metrics are not shared.
func (r SegmentationResult) Clone() SegmentationResult {
	if r.ParametersUsed != nil {
		p := make(map[string]any, len(r.ParametersUsed))
		for k, v := range r.ParametersUsed {
			p[k] = v
		}
		r.ParametersUsed = p
	}
	if r.Metrics != nil {
		m := *r.Metrics
		r.Metrics = &m
	}
	return r
}

// HistoryKey identifies a result for deduplication.
func (r SegmentationResult) HistoryKey() string {
	return r.AlgorithmName + "|" + r.CreatedAt
}

// SegmentationRequest is the body of POST /segmentation/segment.
type SegmentationRequest struct {
	ImageID    string            `json:"image_id"`
	Algorithms []AlgorithmConfig `json:"algorithms"`
	ViewMode   ViewMode          `json:"view_mode"`
}

// SegmentationResponse is returned by POST /segmentation/segment.
type SegmentationResponse struct {
	RequestID           string               `json:"request_id"`
	OriginalImageURL    string               `json:"original_image_url"`
	Results             []SegmentationResult `json:"results"`
	ViewMode            ViewMode             `json:"view_mode"`
	TotalProcessingTime float64              `json:"total_processing_time"`
	CreatedAt           string               `json:"created_at"`
}

// MaxBatchRequests bounds POST /segmentation/batch.
const MaxBatchRequests = 10

// BatchError reports a failed entry of a batch request.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchSegmentationResponse is returned by POST /segmentation/batch.
type BatchSegmentationResponse struct {
	SuccessfulResults []SegmentationResponse `json:"successful_results"`
	Errors            []BatchError           `json:"errors"`
	TotalRequested    int                    `json:"total_requested"`
	SuccessfulCount   int                    `json:"successful_count"`
	ErrorCount        int                    `json:"error_count"`
}

// StoredResult is a result listed by the results endpoints.
type StoredResult struct {
	ID            string `json:"id"`
	ImageID       string `json:"image_id"`
	ImageFilename string `json:"image_filename"`
	SegmentationResult
}

// ResultHistoryPage is returned by GET /segmentation/results/history.
type ResultHistoryPage struct {
	Results    []StoredResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status  string `json:"status" example:"healthy"`
	Version string `json:"version,omitempty"`
	// Unix seconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ErrorResponse is the JSON error payload. Detail follows the backend's
// convention; Code carries the HTTP status.
type ErrorResponse struct {
	// example: Image not found
	Detail string `json:"detail" example:"Image not found"`
	// example: 404
	Code int `json:"code,omitempty" example:"404"`
}
