package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"segclient/pkg/types"
)

// MaxImageHistory bounds the image history.
const MaxImageHistory = 20

// ImageUploader performs the multipart upload. *apiclient.Client satisfies it.
type ImageUploader interface {
	UploadImage(ctx context.Context, filename, contentType string, r io.Reader, progress func(percent int)) (*types.ImageUploadResponse, error)
}

// UploadFile is a file selected for upload. ContentType may be empty, in
// which case it is sniffed from Data. Path is set for files read from disk
// and used for the preview reference.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
	Path        string
}

// FileFromPath reads an upload candidate from disk. At most one byte past
// the size limit is read so oversized files fail validation cheaply.
func FileFromPath(path string) (UploadFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return UploadFile{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return UploadFile{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, types.MaxUploadBytes+1))
	if err != nil {
		return UploadFile{}, err
	}
	return UploadFile{Name: filepath.Base(abs), Data: data, Path: abs}, nil
}

// uploadCheck is what validator sees for an UploadFile.
type uploadCheck struct {
	ContentType string `validate:"required,imagetype"`
	Size        int    `validate:"gt=0,max=10485760"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func uploadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("imagetype", func(fl validator.FieldLevel) bool {
			return types.IsAllowedImageType(fl.Field().String())
		})
	})
	return validate
}

// DetectContentType returns f's declared type, or the sniffed type of its
// bytes when none is declared. Parameters such as charset are dropped.
func DetectContentType(f UploadFile) string {
	ct := f.ContentType
	if ct == "" {
		ct = mimetype.Detect(f.Data).String()
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(ct)
}

// ValidateUpload checks type and size without touching the network.
func ValidateUpload(f UploadFile) error {
	ct := DetectContentType(f)
	err := uploadValidator().Struct(uploadCheck{ContentType: ct, Size: len(f.Data)})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return wrapValidation("file", err.Error(), err)
	}
	switch verrs[0].Field() {
	case "ContentType":
		return wrapValidation("type", fmt.Sprintf("File type %q not supported. Allowed types: %s",
			ct, strings.Join(types.AllowedImageTypes, ", ")), err)
	default:
		if len(f.Data) == 0 {
			return wrapValidation("size", "File is empty", err)
		}
		return wrapValidation("size", "File too large. Maximum size: 10MB", err)
	}
}

// ImageState is a value copy of the image store.
type ImageState struct {
	Current        *types.ImageInfo  `json:"current_image"`
	UploadProgress int               `json:"upload_progress"`
	IsUploading    bool              `json:"is_uploading"`
	Error          string            `json:"error,omitempty"`
	PreviewURL     string            `json:"preview_url,omitempty"`
	History        []types.ImageInfo `json:"image_history"`
}

type imagePersisted struct {
	ImageHistory []types.ImageInfo `json:"image_history"`
	CurrentImage *types.ImageInfo  `json:"current_image"`
}

// ImageStore owns the current image, the upload lifecycle and the image
// history.
type ImageStore struct {
	base
	api ImageUploader

	mu  sync.Mutex
	st  ImageState
	seq uint64
}

func NewImageStore(api ImageUploader, o Options) *ImageStore {
	s := &ImageStore{api: api}
	s.init("image", NamespaceImage, o)
	return s
}

// Load restores history and current image.
func (s *ImageStore) Load(ctx context.Context) error {
	var p imagePersisted
	ok, err := s.load(ctx, &p)
	if !ok {
		return err
	}
	s.mu.Lock()
	s.st.History = dedupImages(p.ImageHistory)
	s.st.Current = cloneImage(p.CurrentImage)
	s.mu.Unlock()
	s.emit("restored", map[string]any{"history": len(p.ImageHistory)})
	return nil
}

func (s *ImageStore) persist() {
	s.save(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return imagePersisted{ImageHistory: cloneImages(s.st.History), CurrentImage: cloneImage(s.st.Current)}
	})
}

// Upload validates f, uploads it and makes the returned image current. A
// validation failure sets the error and returns before any request.
func (s *ImageStore) Upload(ctx context.Context, f UploadFile) (*types.ImageInfo, error) {
	if err := ValidateUpload(f); err != nil {
		s.mu.Lock()
		s.st.Error = err.Error()
		s.mu.Unlock()
		s.emit("upload_rejected", map[string]any{"error": err.Error()})
		return nil, err
	}
	if s.api == nil {
		return nil, fmt.Errorf("store: no uploader configured")
	}
	ct := DetectContentType(f)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.st.IsUploading = true
	s.st.UploadProgress = 0
	s.st.Error = ""
	s.st.PreviewURL = previewURL(f, ct)
	s.mu.Unlock()
	s.emit("upload_started", map[string]any{"name": f.Name, "size": len(f.Data)})

	resp, err := s.api.UploadImage(ctx, f.Name, ct, bytes.NewReader(f.Data), func(p int) {
		s.setProgress(seq, p)
	})
	if err != nil {
		s.mu.Lock()
		latest := seq == s.seq
		if latest {
			s.st.Error = err.Error()
			s.st.IsUploading = false
			s.st.UploadProgress = 0
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("file", f.Name).Bool("stale", !latest).Msg("upload failed")
		if latest {
			s.emit("upload_failed", map[string]any{"error": err.Error()})
		}
		return nil, err
	}

	img := *resp.Image
	s.mu.Lock()
	s.st.History = prependImage(s.st.History, img)
	latest := seq == s.seq
	if latest {
		s.st.Current = cloneImage(&img)
		s.st.IsUploading = false
		s.st.UploadProgress = 100
	}
	s.mu.Unlock()
	s.persist()
	s.emit("upload_done", map[string]any{"id": img.ID, "stale": !latest})
	return &img, nil
}

func (s *ImageStore) setProgress(seq uint64, p int) {
	s.mu.Lock()
	if seq != s.seq || p == s.st.UploadProgress {
		s.mu.Unlock()
		return
	}
	s.st.UploadProgress = p
	s.mu.Unlock()
	s.emit("upload_progress", map[string]any{"progress": p})
}

func previewURL(f UploadFile, ct string) string {
	if f.Path != "" {
		return "file://" + filepath.ToSlash(f.Path)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// SetCurrentImage replaces the current image and records it in history.
func (s *ImageStore) SetCurrentImage(img *types.ImageInfo) {
	s.mu.Lock()
	s.st.Current = cloneImage(img)
	if img != nil {
		s.st.History = prependImage(s.st.History, *img)
	}
	s.mu.Unlock()
	s.persist()
	s.emit("current_changed", map[string]any{"id": imageID(img)})
}

// Clear resets the current image and upload state. History is kept.
func (s *ImageStore) Clear() {
	s.mu.Lock()
	s.seq++
	s.st.Current = nil
	s.st.UploadProgress = 0
	s.st.IsUploading = false
	s.st.Error = ""
	s.st.PreviewURL = ""
	s.mu.Unlock()
	s.persist()
	s.emit("cleared", nil)
}

// SetError sets or clears (empty msg) the error.
func (s *ImageStore) SetError(msg string) {
	s.mu.Lock()
	s.st.Error = msg
	s.mu.Unlock()
	s.emit("error", map[string]any{"error": msg})
}

// AddToHistory puts img first, dropping an older entry with the same id.
func (s *ImageStore) AddToHistory(img types.ImageInfo) {
	s.mu.Lock()
	s.st.History = prependImage(s.st.History, img)
	s.mu.Unlock()
	s.persist()
	s.emit("history_added", map[string]any{"id": img.ID})
}

// RemoveFromHistory drops the entry with id. It reports whether one existed.
func (s *ImageStore) RemoveFromHistory(id string) bool {
	s.mu.Lock()
	out := s.st.History[:0:0]
	for _, h := range s.st.History {
		if h.ID != id {
			out = append(out, h)
		}
	}
	removed := len(out) != len(s.st.History)
	s.st.History = out
	s.mu.Unlock()
	if removed {
		s.persist()
		s.emit("history_removed", map[string]any{"id": id})
	}
	return removed
}

func (s *ImageStore) ClearHistory() {
	s.mu.Lock()
	s.st.History = nil
	s.mu.Unlock()
	s.persist()
	s.emit("history_cleared", nil)
}

// LoadImageFromHistory makes the history entry with id current. Unknown ids
// are a no-op returning false.
func (s *ImageStore) LoadImageFromHistory(id string) bool {
	s.mu.Lock()
	var found *types.ImageInfo
	for i := range s.st.History {
		if s.st.History[i].ID == id {
			found = cloneImage(&s.st.History[i])
			break
		}
	}
	if found != nil {
		s.st.Current = found
	}
	s.mu.Unlock()
	if found == nil {
		return false
	}
	s.persist()
	s.emit("current_changed", map[string]any{"id": id})
	return true
}

// Current returns a copy of the current image, or nil.
func (s *ImageStore) Current() *types.ImageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneImage(s.st.Current)
}

// History returns the image history, newest first.
func (s *ImageStore) History() []types.ImageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneImages(s.st.History)
}

// Snapshot returns a copy of the whole state.
func (s *ImageStore) Snapshot() ImageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.Current = cloneImage(s.st.Current)
	st.History = cloneImages(s.st.History)
	return st
}

func prependImage(h []types.ImageInfo, img types.ImageInfo) []types.ImageInfo {
	out := make([]types.ImageInfo, 0, len(h)+1)
	out = append(out, img)
	for _, x := range h {
		if x.ID != img.ID {
			out = append(out, x)
		}
	}
	if len(out) > MaxImageHistory {
		out = out[:MaxImageHistory]
	}
	return out
}

// dedupImages keeps the first occurrence of each id, capped.
func dedupImages(h []types.ImageInfo) []types.ImageInfo {
	seen := make(map[string]bool, len(h))
	var out []types.ImageInfo
	for _, x := range h {
		if seen[x.ID] {
			continue
		}
		seen[x.ID] = true
		out = append(out, x)
		if len(out) == MaxImageHistory {
			break
		}
	}
	return out
}

func cloneImage(img *types.ImageInfo) *types.ImageInfo {
	if img == nil {
		return nil
	}
	c := *img
	return &c
}

func cloneImages(h []types.ImageInfo) []types.ImageInfo {
	if h == nil {
		return nil
	}
	return append([]types.ImageInfo(nil), h...)
}

func imageID(img *types.ImageInfo) string {
	if img == nil {
		return ""
	}
	return img.ID
}
