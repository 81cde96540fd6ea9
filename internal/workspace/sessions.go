package workspace

import "segclient/internal/store"

// NewSession starts an empty session.
func (w *Workspace) NewSession() store.SessionSnapshot {
	s := w.Sessions.CreateNewSession()
	w.toast(store.ToastInfo, "New session started")
	return s
}

// SaveSession captures the current image, active algorithms and results
// under name. A current session is created when there is none.
func (w *Workspace) SaveSession(name string) store.SessionSnapshot {
	if w.Sessions.Current() == nil {
		w.Sessions.CreateNewSession()
	}
	img := w.Images.Current()
	algos := w.Segmentation.Active()
	results := w.Segmentation.Results()
	w.Sessions.UpdateCurrentSession(func(s *store.SessionSnapshot) {
		s.Image = img
		s.Algorithms = algos
		// The working set is not persisted, so after a restart the
		// session's own results stand in for it.
		if len(results) > 0 {
			s.Results = results
		}
	})
	snap, _ := w.Sessions.SaveCurrentSession(name)
	w.toast(store.ToastSuccess, "Session \""+snap.Name+"\" saved")
	return snap
}

// RestoreSession loads the saved session id back into the image and
// segmentation stores. It reports false for unknown ids.
func (w *Workspace) RestoreSession(id string) bool {
	snap := w.Sessions.LoadSession(id)
	if snap == nil {
		w.toast(store.ToastWarning, "Session not found")
		return false
	}
	if snap.Image != nil {
		w.Images.SetCurrentImage(snap.Image)
	} else {
		w.Images.Clear()
	}
	w.Segmentation.SetActiveAlgorithms(snap.Algorithms)
	w.Segmentation.SetResults(snap.Results)
	w.toast(store.ToastInfo, "Session \""+snap.Name+"\" restored")
	return true
}
