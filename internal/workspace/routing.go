package workspace

import (
	"fmt"

	"segclient/internal/store"
	"segclient/internal/wsclient"
)

// route applies a duplex message to the stores. REST responses stay
// authoritative for the working result set; pushed completions only feed
// history, except for parameter re-runs which replace their entry.
func (w *Workspace) route(m wsclient.Message) {
	switch msg := m.(type) {
	case wsclient.SegmentationStart:
		w.Segmentation.ApplyStart(msg.AlgorithmName)
	case wsclient.SegmentationProgress:
		w.Segmentation.ApplyProgress(msg.AlgorithmName, msg.ProgressPercent)
	case wsclient.SegmentationComplete:
		w.Segmentation.ApplyComplete(msg.Result)
		w.toast(store.ToastSuccess, fmt.Sprintf("%s segmentation completed!", msg.Result.AlgorithmName))
	case wsclient.SegmentationError:
		if msg.AlgorithmName == "" {
			w.Segmentation.SetError(msg.ErrorMessage)
			w.toast(store.ToastError, msg.ErrorMessage)
			return
		}
		w.Segmentation.ApplyError(msg.AlgorithmName, msg.ErrorMessage)
		w.toast(store.ToastError, fmt.Sprintf("%s failed: %s", msg.AlgorithmName, msg.ErrorMessage))
	case wsclient.ParameterUpdateComplete:
		for _, r := range msg.Result.Results {
			w.Segmentation.ReplaceResult(r)
		}
	case wsclient.ParameterUpdateError:
		w.toast(store.ToastError, msg.Error)
	case wsclient.ServerError:
		w.toast(store.ToastError, msg.Message)
	case wsclient.ConnectionEstablished, wsclient.Pong:
	case wsclient.Unknown:
		w.log.Debug().Str("type", msg.Kind).Msg("unhandled message type")
	default:
		w.log.Debug().Str("type", m.Type()).Msg("ignored message")
	}
}
