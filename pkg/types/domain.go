package types

// ViewMode selects how results are laid out for comparison.
type ViewMode string

const (
	ViewSingle  ViewMode = "single"
	ViewSplit   ViewMode = "split"
	ViewGrid2x2 ViewMode = "grid_2x2"
)

// Valid reports whether m is one of the known view modes.
func (m ViewMode) Valid() bool {
	switch m {
	case ViewSingle, ViewSplit, ViewGrid2x2:
		return true
	}
	return false
}

// Algorithm names understood by the backend.
const (
	AlgorithmFelzenszwalb = "felzenszwalb"
	AlgorithmSLIC         = "slic"
	AlgorithmQuickshift   = "quickshift"
	AlgorithmWatershed    = "watershed"
)

// ParamType is the declared type of an algorithm parameter.
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
)

// Allowed upload content types and the upload size limit.
var AllowedImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/bmp",
	"image/tiff",
}

const MaxUploadBytes = 10 * 1024 * 1024

// IsAllowedImageType reports whether ct is accepted for upload.
func IsAllowedImageType(ct string) bool {
	for _, a := range AllowedImageTypes {
		if a == ct {
			return true
		}
	}
	return false
}
