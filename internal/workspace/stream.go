package workspace

import (
	"context"
	"errors"
	"fmt"

	"segclient/internal/store"
	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

// StreamProcess runs the active set over the duplex channel instead of
// REST. Progress flows through the usual routing while this call collects
// one completion or error per algorithm; the collected results then become
// the working set. Failed algorithms are dropped from the result. A
// request-level error (one naming no algorithm) fails the whole call.
// The segmentation store reports the run as requested until it returns.
func (w *Workspace) StreamProcess(ctx context.Context) ([]types.SegmentationResult, error) {
	img := w.Images.Current()
	imageID := ""
	if img != nil {
		imageID = img.ID
	}
	req, err := w.Segmentation.Request(imageID, w.UI.ViewMode())
	if err != nil {
		w.toast(store.ToastWarning, err.Error())
		return nil, err
	}
	if !w.Connection.IsConnected() {
		w.toast(store.ToastWarning, "Not connected to the segmentation service")
		return nil, store.ErrNotConnected
	}

	pending := make(map[string]bool, len(req.Algorithms))
	for _, a := range req.Algorithms {
		pending[a.Name] = true
	}

	msgs := make(chan wsclient.Message, 16)
	stop := make(chan struct{})
	defer close(stop)
	unsub := w.Connection.OnMessage(func(m wsclient.Message) {
		switch m.(type) {
		case wsclient.SegmentationComplete, wsclient.SegmentationError:
		default:
			return
		}
		select {
		case msgs <- m:
		case <-stop:
		}
	})
	defer unsub()

	w.Segmentation.BeginStream(req.Algorithms)
	failMsg := ""
	defer func() { w.Segmentation.EndStream(failMsg) }()

	if err := w.Connection.Send(wsclient.StartSegmentation{Request: req}); err != nil {
		failMsg = err.Error()
		w.toast(store.ToastError, "Segmentation failed")
		return nil, err
	}
	w.log.Debug().Str("image_id", imageID).Int("algorithms", len(req.Algorithms)).Msg("streaming segmentation")

	var results []types.SegmentationResult
	var failed []error
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			failMsg = ctx.Err().Error()
			return nil, ctx.Err()
		case m := <-msgs:
			switch msg := m.(type) {
			case wsclient.SegmentationComplete:
				if !pending[msg.Result.AlgorithmName] {
					continue
				}
				delete(pending, msg.Result.AlgorithmName)
				results = append(results, msg.Result)
			case wsclient.SegmentationError:
				if msg.AlgorithmName == "" {
					// Routing already raised the toast and the store error.
					failMsg = msg.ErrorMessage
					return nil, fmt.Errorf("segmentation: %s", msg.ErrorMessage)
				}
				if !pending[msg.AlgorithmName] {
					continue
				}
				delete(pending, msg.AlgorithmName)
				failed = append(failed, fmt.Errorf("%s: %s", msg.AlgorithmName, msg.ErrorMessage))
			}
		}
	}

	results = orderLike(req.Algorithms, results)
	w.Segmentation.SetResults(results)
	if len(results) == 0 {
		err := errors.Join(failed...)
		if err != nil {
			failMsg = err.Error()
		}
		w.toast(store.ToastError, "Segmentation failed")
		return nil, err
	}
	w.toast(store.ToastSuccess, "Segmentation completed successfully!")
	w.recordRun(img, req.Algorithms, results)
	return results, nil
}

// orderLike sorts results into the order of the requested algorithms.
func orderLike(algos []types.AlgorithmConfig, results []types.SegmentationResult) []types.SegmentationResult {
	byName := make(map[string]types.SegmentationResult, len(results))
	for _, r := range results {
		byName[r.AlgorithmName] = r
	}
	out := make([]types.SegmentationResult, 0, len(results))
	for _, a := range algos {
		if r, ok := byName[a.Name]; ok {
			out = append(out, r)
		}
	}
	return out
}
