package mockserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"segclient/pkg/types"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 64 << 10

// health godoc
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"version":   s.opts.Version,
		"timestamp": s.opts.Now().Unix(),
	})
}

// uploadImage godoc
// @Summary      Upload an image
// @Tags         images
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "Image file"
// @Success      200  {object}  types.ImageUploadResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Router       /api/v1/images/upload [post]
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, tooLarge("File too large. Maximum size: %d bytes", limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	info, err := s.backend.StoreImage(hdr.Filename, hdr.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ImageUploadResponse{Success: true, Image: &info, Message: "Image uploaded successfully"})
}

// imageInfo godoc
// @Summary      Image metadata
// @Tags         images
// @Produce      json
// @Param        id   path      string  true  "Image id"
// @Success      200  {object}  types.ImageInfo
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/v1/images/info/{id} [get]
func (s *Server) imageInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := s.backend.Image(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Image not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// listAlgorithms godoc
// @Summary      Algorithm catalog
// @Tags         segmentation
// @Produce      json
// @Success      200  {object}  types.AlgorithmsListResponse
// @Router       /api/v1/segmentation/algorithms [get]
func (s *Server) listAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.AlgorithmsListResponse{Algorithms: s.backend.Algorithms()})
}

// getAlgorithm godoc
// @Summary      One catalog entry
// @Tags         segmentation
// @Produce      json
// @Param        name  path      string  true  "Algorithm name"
// @Success      200   {object}  types.AlgorithmInfo
// @Failure      404   {object}  types.ErrorResponse
// @Router       /api/v1/segmentation/algorithms/{name} [get]
func (s *Server) getAlgorithm(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := s.backend.Algorithm(name)
	if !ok {
		writeError(w, notFound("Algorithm not found: %s", name))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// segment godoc
// @Summary      Run a segmentation
// @Tags         segmentation
// @Accept       json
// @Produce      json
// @Param        request  body      types.SegmentationRequest  true  "Request"
// @Success      200      {object}  types.SegmentationResponse
// @Failure      400      {object}  types.ErrorResponse
// @Router       /api/v1/segmentation/segment [post]
func (s *Server) segment(w http.ResponseWriter, r *http.Request) {
	var req types.SegmentationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(baseContext(), r.Context())
	defer cancel()
	resp, err := s.backend.Segment(ctx, req, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// batch godoc
// @Summary      Run several segmentations
// @Tags         segmentation
// @Accept       json
// @Produce      json
// @Param        requests  body      []types.SegmentationRequest  true  "Requests (at most 10)"
// @Success      200       {object}  types.BatchSegmentationResponse
// @Failure      400       {object}  types.ErrorResponse
// @Router       /api/v1/segmentation/batch [post]
func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var reqs []types.SegmentationRequest
	if !decodeJSON(w, r, &reqs) {
		return
	}
	ctx, cancel := joinContexts(baseContext(), r.Context())
	defer cancel()
	resp, err := s.backend.Batch(ctx, reqs)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// resultsHistory godoc
// @Summary      Stored results, newest first
// @Tags         segmentation
// @Produce      json
// @Param        limit   query     int  false  "Page size"  default(50)
// @Param        offset  query     int  false  "Offset"     default(0)
// @Success      200     {object}  types.ResultHistoryPage
// @Router       /api/v1/segmentation/results/history [get]
func (s *Server) resultsHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.History(limit, offset))
}

// getResult godoc
// @Summary      One stored result
// @Tags         segmentation
// @Produce      json
// @Param        id   path      string  true  "Result id"
// @Success      200  {object}  types.StoredResult
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/v1/segmentation/results/{id} [get]
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.backend.Result(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Result not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listImages godoc
// @Summary      Uploaded images, newest first
// @Tags         segmentation
// @Produce      json
// @Param        limit   query     int  false  "Page size"  default(50)
// @Param        offset  query     int  false  "Offset"     default(0)
// @Success      200     {object}  types.ImageListPage
// @Router       /api/v1/segmentation/list [get]
func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.ListImages(limit, offset))
}

func (s *Server) staticUpload(w http.ResponseWriter, r *http.Request) {
	data, ct, ok := s.backend.Upload(chi.URLParam(r, "file"))
	serveBytes(w, data, ct, ok)
}

func (s *Server) staticResult(w http.ResponseWriter, r *http.Request) {
	data, ct, ok := s.backend.ResultFile(chi.URLParam(r, "file"))
	serveBytes(w, data, ct, ok)
}

func serveBytes(w http.ResponseWriter, data []byte, ct string, ok bool) {
	if !ok {
		writeJSONError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, badRequest("limit must be a positive integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, badRequest("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
