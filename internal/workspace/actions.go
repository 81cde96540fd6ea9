package workspace

import (
	"context"
	"fmt"

	"segclient/internal/store"
	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

// Upload sends f and raises a toast for the outcome.
func (w *Workspace) Upload(ctx context.Context, f store.UploadFile) (*types.ImageInfo, error) {
	img, err := w.Images.Upload(ctx, f)
	if err != nil {
		w.toast(store.ToastError, err.Error())
		return nil, err
	}
	w.toast(store.ToastSuccess, fmt.Sprintf("Image %q uploaded successfully!", f.Name))
	return img, nil
}

// ClearImage drops the current image.
func (w *Workspace) ClearImage() {
	w.Images.Clear()
	w.toast(store.ToastInfo, "Image cleared")
}

// Process segments the current image with the active algorithms in the
// current view mode. Missing preconditions raise a warning toast and
// return the validation error without a request.
func (w *Workspace) Process(ctx context.Context) (*types.SegmentationResponse, error) {
	img := w.Images.Current()
	imageID := ""
	if img != nil {
		imageID = img.ID
	}
	resp, err := w.Segmentation.ProcessSegmentation(ctx, imageID, w.UI.ViewMode())
	if store.IsValidation(err) {
		w.toast(store.ToastWarning, err.Error())
		return nil, err
	}
	if err != nil {
		w.toast(store.ToastError, "Segmentation failed")
		return nil, err
	}
	w.toast(store.ToastSuccess, "Segmentation completed successfully!")
	w.recordRun(img, w.Segmentation.Active(), resp.Results)
	return resp, nil
}

// recordRun stores a finished run in the current session, starting one
// when there is none.
func (w *Workspace) recordRun(img *types.ImageInfo, algos []types.AlgorithmConfig, results []types.SegmentationResult) {
	if w.Sessions.Current() == nil {
		w.Sessions.CreateNewSession()
	}
	w.Sessions.UpdateCurrentSession(func(s *store.SessionSnapshot) {
		s.Image = img
		s.Algorithms = algos
		s.Results = results
	})
}

// UpdateParameter records a parameter edit. Edits to the same
// (algorithm, parameter) inside the debounce window collapse into one:
// the last value is committed locally and, when connected with an image
// loaded, sent as a parameter_update.
func (w *Workspace) UpdateParameter(algorithm, param string, value any) {
	key := algorithm + "\x00" + param
	w.debounce.Do(key, func() { w.commitParameter(algorithm, param, value) })
}

func (w *Workspace) commitParameter(algorithm, param string, value any) {
	if !w.Segmentation.UpdateParameter(algorithm, param, value) {
		w.log.Debug().Str("algorithm", algorithm).Msg("parameter edit for inactive algorithm")
		return
	}
	img := w.Images.Current()
	if img == nil || !w.Connection.IsConnected() {
		return
	}
	err := w.Connection.Send(wsclient.ParameterUpdate{
		AlgorithmName:  algorithm,
		ParameterName:  param,
		ParameterValue: store.NormalizeValue(value),
		ImageID:        img.ID,
	})
	if err != nil {
		w.log.Warn().Err(err).Str("algorithm", algorithm).Msg("parameter update not sent")
	}
}

// SetViewMode switches the layout and tells the backend when connected.
func (w *Workspace) SetViewMode(mode types.ViewMode) error {
	if err := w.UI.SetViewMode(mode); err != nil {
		return err
	}
	if w.Connection.IsConnected() {
		if err := w.Connection.Send(wsclient.ViewModeChange{ViewMode: mode}); err != nil {
			w.log.Warn().Err(err).Msg("view mode change not sent")
		}
	}
	return nil
}
