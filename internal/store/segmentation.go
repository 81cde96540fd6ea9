package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"segclient/internal/catalog"
	"segclient/pkg/types"
)

const (
	// MaxActiveAlgorithms caps the active set regardless of view mode.
	MaxActiveAlgorithms = 4
	// MaxResultHistory bounds the result history.
	MaxResultHistory = 100
)

// SegmentationAPI is the backend surface the store calls.
// *apiclient.Client satisfies it.
type SegmentationAPI interface {
	ListAlgorithms(ctx context.Context) ([]types.AlgorithmInfo, error)
	Segment(ctx context.Context, req types.SegmentationRequest) (*types.SegmentationResponse, error)
}

// RunState is the store-level processing state.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRequested RunState = "requested"
)

// AlgorithmRunState tracks one algorithm within a run.
type AlgorithmRunState string

const (
	AlgoQueued    AlgorithmRunState = "queued"
	AlgoRunning   AlgorithmRunState = "running"
	AlgoCompleted AlgorithmRunState = "completed"
	AlgoFailed    AlgorithmRunState = "failed"
)

// SegmentationState is a value copy of the segmentation store.
type SegmentationState struct {
	Available           []types.AlgorithmInfo          `json:"available_algorithms"`
	Active              []types.AlgorithmConfig        `json:"active_algorithms"`
	Results             []types.SegmentationResult     `json:"results"`
	ResultHistory       []types.SegmentationResult     `json:"result_history"`
	IsProcessing        bool                           `json:"is_processing"`
	RunState            RunState                       `json:"run_state"`
	Progress            map[string]int                 `json:"progress"`
	AlgorithmStates     map[string]AlgorithmRunState   `json:"algorithm_states,omitempty"`
	AlgorithmErrors     map[string]string              `json:"algorithm_errors,omitempty"`
	Error               string                         `json:"error,omitempty"`
	IsLoadingAlgorithms bool                           `json:"is_loading_algorithms"`
	CatalogSource       string                         `json:"catalog_source,omitempty"`
	LastRequestID       string                         `json:"last_request_id,omitempty"`
}

type segmentationPersisted struct {
	ActiveAlgorithms []types.AlgorithmConfig    `json:"active_algorithms"`
	ResultHistory    []types.SegmentationResult `json:"result_history"`
}

// Catalog sources reported in SegmentationState.CatalogSource.
const (
	CatalogBackend = "backend"
	CatalogBuiltin = "builtin"
)

// SegmentationStore owns the catalog, the active set, results, progress and
// the result history.
type SegmentationStore struct {
	base
	api SegmentationAPI

	mu  sync.Mutex
	st  SegmentationState
	seq uint64
}

func NewSegmentationStore(api SegmentationAPI, o Options) *SegmentationStore {
	s := &SegmentationStore{api: api}
	s.init("segmentation", NamespaceSegmentation, o)
	s.st.RunState = RunIdle
	s.st.Progress = make(map[string]int)
	for _, name := range catalog.Names(catalog.Builtin()) {
		s.st.Progress[name] = 0
	}
	s.st.AlgorithmStates = make(map[string]AlgorithmRunState)
	s.st.AlgorithmErrors = make(map[string]string)
	return s
}

// Load restores the active set and result history.
func (s *SegmentationStore) Load(ctx context.Context) error {
	var p segmentationPersisted
	ok, err := s.load(ctx, &p)
	if !ok {
		return err
	}
	s.mu.Lock()
	s.st.Active = nil
	for _, a := range p.ActiveAlgorithms {
		s.addLocked(a)
	}
	s.st.ResultHistory = appendHistory(nil, p.ResultHistory)
	s.mu.Unlock()
	s.emit("restored", map[string]any{"active": len(p.ActiveAlgorithms), "history": len(p.ResultHistory)})
	return nil
}

func (s *SegmentationStore) persist() {
	s.save(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return segmentationPersisted{
			ActiveAlgorithms: cloneConfigs(s.st.Active),
			ResultHistory:    cloneResults(s.st.ResultHistory),
		}
	})
}

// LoadAlgorithms fetches the catalog. On failure, or when the backend has
// nothing, the built-in catalog is used so there is always something to
// choose from. The returned error is informational.
func (s *SegmentationStore) LoadAlgorithms(ctx context.Context) error {
	s.mu.Lock()
	s.st.IsLoadingAlgorithms = true
	s.mu.Unlock()

	var (
		algos []types.AlgorithmInfo
		err   error
	)
	if s.api != nil {
		algos, err = s.api.ListAlgorithms(ctx)
	} else {
		err = fmt.Errorf("store: no backend configured")
	}
	source := CatalogBackend
	if err != nil || len(algos) == 0 {
		if err != nil {
			s.log.Warn().Err(err).Msg("algorithm catalog unavailable, using built-in")
		}
		algos = catalog.Builtin()
		source = CatalogBuiltin
	}

	s.mu.Lock()
	s.st.Available = algos
	s.st.CatalogSource = source
	s.st.IsLoadingAlgorithms = false
	for _, a := range algos {
		if _, ok := s.st.Progress[a.Name]; !ok {
			s.st.Progress[a.Name] = 0
		}
	}
	s.mu.Unlock()
	s.emit("algorithms_loaded", map[string]any{"count": len(algos), "source": source})
	return err
}

// SetAvailableAlgorithms replaces the catalog.
func (s *SegmentationStore) SetAvailableAlgorithms(algos []types.AlgorithmInfo) {
	s.mu.Lock()
	s.st.Available = append([]types.AlgorithmInfo(nil), algos...)
	s.mu.Unlock()
	s.emit("algorithms_loaded", map[string]any{"count": len(algos)})
}

func (s *SegmentationStore) findAvailableLocked(name string) (types.AlgorithmInfo, bool) {
	for _, a := range s.st.Available {
		if a.Name == name {
			return a, true
		}
	}
	return types.AlgorithmInfo{}, false
}

func (s *SegmentationStore) activeIndexLocked(name string) int {
	for i, a := range s.st.Active {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// addLocked appends cfg unless the name is present or the set is full.
func (s *SegmentationStore) addLocked(cfg types.AlgorithmConfig) bool {
	if cfg.Name == "" || s.activeIndexLocked(cfg.Name) >= 0 || len(s.st.Active) >= MaxActiveAlgorithms {
		return false
	}
	cfg = cfg.Clone()
	cfg.IsActive = true
	s.st.Active = append(s.st.Active, cfg)
	return true
}

// ToggleAlgorithm removes name if active, otherwise adds it with catalog
// defaults when below the cap. Names missing from the catalog are ignored.
// It reports whether the active set changed.
func (s *SegmentationStore) ToggleAlgorithm(name string) bool {
	s.mu.Lock()
	var changed, added bool
	if i := s.activeIndexLocked(name); i >= 0 {
		s.st.Active = append(s.st.Active[:i:i], s.st.Active[i+1:]...)
		changed = true
	} else if info, ok := s.findAvailableLocked(name); ok {
		changed = s.addLocked(types.AlgorithmConfig{
			Name:        name,
			DisplayName: info.DisplayName,
			Parameters:  info.Defaults(),
		})
		added = changed
	}
	s.mu.Unlock()
	if changed {
		s.persist()
		s.emit("algorithm_toggled", map[string]any{"name": name, "active": added})
	}
	return changed
}

// AddAlgorithm adds cfg verbatim, subject to the cap and uniqueness.
func (s *SegmentationStore) AddAlgorithm(cfg types.AlgorithmConfig) bool {
	s.mu.Lock()
	ok := s.addLocked(cfg)
	s.mu.Unlock()
	if ok {
		s.persist()
		s.emit("algorithm_added", map[string]any{"name": cfg.Name})
	}
	return ok
}

// SetActiveAlgorithms replaces the active set. Duplicates and entries past
// the cap are dropped.
func (s *SegmentationStore) SetActiveAlgorithms(cfgs []types.AlgorithmConfig) {
	s.mu.Lock()
	s.st.Active = nil
	for _, c := range cfgs {
		s.addLocked(c)
	}
	n := len(s.st.Active)
	s.mu.Unlock()
	s.persist()
	s.emit("active_replaced", map[string]any{"count": n})
}

// RemoveAlgorithm drops name from the active set.
func (s *SegmentationStore) RemoveAlgorithm(name string) bool {
	s.mu.Lock()
	i := s.activeIndexLocked(name)
	if i >= 0 {
		s.st.Active = append(s.st.Active[:i:i], s.st.Active[i+1:]...)
	}
	s.mu.Unlock()
	if i < 0 {
		return false
	}
	s.persist()
	s.emit("algorithm_removed", map[string]any{"name": name})
	return true
}

// ClearActive empties the active set.
func (s *SegmentationStore) ClearActive() {
	s.mu.Lock()
	s.st.Active = nil
	s.mu.Unlock()
	s.persist()
	s.emit("active_cleared", nil)
}

// UpdateParameter stores value for param of the active algorithm name.
// Values are not range-checked. It reports whether name is active.
func (s *SegmentationStore) UpdateParameter(name, param string, value any) bool {
	s.mu.Lock()
	i := s.activeIndexLocked(name)
	if i >= 0 {
		cfg := s.st.Active[i].Clone()
		cfg.Parameters[param] = NormalizeValue(value)
		s.st.Active[i] = cfg
	}
	s.mu.Unlock()
	if i < 0 {
		return false
	}
	s.persist()
	s.emit("parameter_updated", map[string]any{"name": name, "param": param, "value": value})
	return true
}

// CanAddMoreAlgorithms reports whether the active set is below the cap.
func (s *SegmentationStore) CanAddMoreAlgorithms() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.Active) < MaxActiveAlgorithms
}

// ProcessSegmentation sends the whole active set for imageID in one request.
// On success the response's results replace the working set and are added
// to the history. Each call is numbered: a response that arrives after a
// newer call was issued only feeds the history.
func (s *SegmentationStore) ProcessSegmentation(ctx context.Context, imageID string, view types.ViewMode) (*types.SegmentationResponse, error) {
	view, err := checkRequest(imageID, view)
	if err != nil {
		return nil, err
	}
	if s.api == nil {
		return nil, fmt.Errorf("store: no backend configured")
	}

	s.mu.Lock()
	if len(s.st.Active) == 0 {
		s.mu.Unlock()
		return nil, errNoAlgorithms()
	}
	s.seq++
	seq := s.seq
	active := cloneConfigs(s.st.Active)
	s.st.IsProcessing = true
	s.st.RunState = RunRequested
	s.st.Error = ""
	s.st.AlgorithmErrors = make(map[string]string)
	s.st.AlgorithmStates = make(map[string]AlgorithmRunState, len(active))
	for _, a := range active {
		s.st.AlgorithmStates[a.Name] = AlgoQueued
	}
	s.mu.Unlock()
	s.emit("processing_started", map[string]any{"image_id": imageID, "algorithms": len(active), "seq": seq})

	resp, err := s.api.Segment(ctx, types.SegmentationRequest{ImageID: imageID, Algorithms: active, ViewMode: view})
	if err != nil {
		s.mu.Lock()
		latest := seq == s.seq
		if latest {
			s.st.Error = err.Error()
			s.st.IsProcessing = false
			s.st.RunState = RunIdle
			for _, a := range active {
				s.st.AlgorithmStates[a.Name] = AlgoFailed
			}
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).Bool("stale", !latest).Msg("segmentation failed")
		if latest {
			s.emit("processing_failed", map[string]any{"error": err.Error()})
		}
		return nil, err
	}

	s.mu.Lock()
	s.st.ResultHistory = appendHistory(s.st.ResultHistory, cloneResults(resp.Results))
	latest := seq == s.seq
	if latest {
		s.st.Results = cloneResults(resp.Results)
		s.st.IsProcessing = false
		s.st.RunState = RunIdle
		s.st.LastRequestID = resp.RequestID
		for _, r := range resp.Results {
			s.st.AlgorithmStates[r.AlgorithmName] = AlgoCompleted
			s.st.Progress[r.AlgorithmName] = 100
		}
	}
	s.mu.Unlock()
	s.persist()
	s.emit("processing_done", map[string]any{"request_id": resp.RequestID, "results": len(resp.Results), "stale": !latest})
	return resp, nil
}

func checkRequest(imageID string, view types.ViewMode) (types.ViewMode, error) {
	if imageID == "" {
		return "", wrapValidation("image", "Please upload an image first", ErrNoImage)
	}
	if view == "" {
		view = types.ViewSingle
	}
	if !view.Valid() {
		return "", ErrValidation("view_mode", fmt.Sprintf("unknown view mode %q", view))
	}
	return view, nil
}

func errNoAlgorithms() error {
	return wrapValidation("algorithms", "Please select at least one algorithm", ErrNoAlgorithms)
}

// Request builds the request ProcessSegmentation would send for imageID,
// with the same checks, without sending it or touching state.
func (s *SegmentationStore) Request(imageID string, view types.ViewMode) (types.SegmentationRequest, error) {
	view, err := checkRequest(imageID, view)
	if err != nil {
		return types.SegmentationRequest{}, err
	}
	s.mu.Lock()
	active := cloneConfigs(s.st.Active)
	s.mu.Unlock()
	if len(active) == 0 {
		return types.SegmentationRequest{}, errNoAlgorithms()
	}
	return types.SegmentationRequest{ImageID: imageID, Algorithms: active, ViewMode: view}, nil
}

// BeginStream marks a run over the duplex channel as requested for algos.
// A REST run still in flight is superseded and only feeds the history.
func (s *SegmentationStore) BeginStream(algos []types.AlgorithmConfig) {
	s.mu.Lock()
	s.seq++
	s.st.IsProcessing = true
	s.st.RunState = RunRequested
	s.st.Error = ""
	s.st.AlgorithmErrors = make(map[string]string)
	s.st.AlgorithmStates = make(map[string]AlgorithmRunState, len(algos))
	for _, a := range algos {
		s.st.AlgorithmStates[a.Name] = AlgoQueued
	}
	s.mu.Unlock()
	s.emit("processing_started", map[string]any{"algorithms": len(algos), "stream": true})
}

// EndStream returns the store to idle after a streamed run. A non-empty
// errMsg is recorded as the store error.
func (s *SegmentationStore) EndStream(errMsg string) {
	s.mu.Lock()
	s.st.IsProcessing = false
	s.st.RunState = RunIdle
	if errMsg != "" {
		s.st.Error = errMsg
	}
	s.mu.Unlock()
	if errMsg != "" {
		s.emit("processing_failed", map[string]any{"error": errMsg, "stream": true})
		return
	}
	s.emit("processing_done", map[string]any{"stream": true})
}

// ApplyStart marks name running.
func (s *SegmentationStore) ApplyStart(name string) {
	s.mu.Lock()
	s.st.AlgorithmStates[name] = AlgoRunning
	delete(s.st.AlgorithmErrors, name)
	s.mu.Unlock()
	s.emit("algorithm_started", map[string]any{"name": name})
}

// ApplyProgress overwrites the progress of name, clamped to 0..100.
func (s *SegmentationStore) ApplyProgress(name string, percent float64) {
	p := int(percent)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	s.mu.Lock()
	s.st.Progress[name] = p
	if st := s.st.AlgorithmStates[name]; st != AlgoCompleted && st != AlgoFailed {
		s.st.AlgorithmStates[name] = AlgoRunning
	}
	s.mu.Unlock()
	s.emit("progress", map[string]any{"name": name, "progress": p})
}

// ApplyComplete records a pushed result in the history. The working set is
// left to the REST response.
func (s *SegmentationStore) ApplyComplete(r types.SegmentationResult) {
	r = r.Clone()
	s.mu.Lock()
	s.st.ResultHistory = appendHistory(s.st.ResultHistory, []types.SegmentationResult{r})
	s.st.AlgorithmStates[r.AlgorithmName] = AlgoCompleted
	s.st.Progress[r.AlgorithmName] = 100
	s.mu.Unlock()
	s.persist()
	s.emit("algorithm_completed", map[string]any{"name": r.AlgorithmName})
}

// ApplyError records a pushed failure for name.
func (s *SegmentationStore) ApplyError(name, msg string) {
	s.mu.Lock()
	s.st.AlgorithmStates[name] = AlgoFailed
	s.st.AlgorithmErrors[name] = msg
	s.mu.Unlock()
	s.emit("algorithm_failed", map[string]any{"name": name, "error": msg})
}

// ReplaceResult swaps the working-set entry for r's algorithm, appending
// when there is none, and records r in the history.
func (s *SegmentationStore) ReplaceResult(r types.SegmentationResult) {
	r = r.Clone()
	s.mu.Lock()
	replaced := false
	for i := range s.st.Results {
		if s.st.Results[i].AlgorithmName == r.AlgorithmName {
			s.st.Results[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		s.st.Results = append(s.st.Results, r)
	}
	s.st.ResultHistory = appendHistory(s.st.ResultHistory, []types.SegmentationResult{r})
	s.mu.Unlock()
	s.persist()
	s.emit("result_replaced", map[string]any{"name": r.AlgorithmName})
}

// SetResults replaces the working set without touching history.
func (s *SegmentationStore) SetResults(results []types.SegmentationResult) {
	s.mu.Lock()
	s.st.Results = cloneResults(results)
	s.mu.Unlock()
	s.emit("results_set", map[string]any{"count": len(results)})
}

// ClearResults empties the working set and zeroes every known progress.
func (s *SegmentationStore) ClearResults() {
	s.mu.Lock()
	s.st.Results = nil
	for k := range s.st.Progress {
		s.st.Progress[k] = 0
	}
	for _, a := range s.st.Available {
		s.st.Progress[a.Name] = 0
	}
	s.st.AlgorithmStates = make(map[string]AlgorithmRunState)
	s.st.AlgorithmErrors = make(map[string]string)
	s.mu.Unlock()
	s.emit("results_cleared", nil)
}

func (s *SegmentationStore) ClearResultHistory() {
	s.mu.Lock()
	s.st.ResultHistory = nil
	s.mu.Unlock()
	s.persist()
	s.emit("history_cleared", nil)
}

// SetError sets or clears the error.
func (s *SegmentationStore) SetError(msg string) {
	s.mu.Lock()
	s.st.Error = msg
	s.mu.Unlock()
	s.emit("error", map[string]any{"error": msg})
}

// Active returns a copy of the active set.
func (s *SegmentationStore) Active() []types.AlgorithmConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfigs(s.st.Active)
}

// Results returns a copy of the working set.
func (s *SegmentationStore) Results() []types.SegmentationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneResults(s.st.Results)
}

// Available returns the catalog.
func (s *SegmentationStore) Available() []types.AlgorithmInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AlgorithmInfo(nil), s.st.Available...)
}

// Algorithm returns the catalog entry for name.
func (s *SegmentationStore) Algorithm(name string) (types.AlgorithmInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findAvailableLocked(name)
}

func (s *SegmentationStore) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IsProcessing
}

// Snapshot returns a deep copy of the state.
func (s *SegmentationStore) Snapshot() SegmentationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.Available = append([]types.AlgorithmInfo(nil), s.st.Available...)
	st.Active = cloneConfigs(s.st.Active)
	st.Results = cloneResults(s.st.Results)
	st.ResultHistory = cloneResults(s.st.ResultHistory)
	st.Progress = make(map[string]int, len(s.st.Progress))
	for k, v := range s.st.Progress {
		st.Progress[k] = v
	}
	st.AlgorithmStates = make(map[string]AlgorithmRunState, len(s.st.AlgorithmStates))
	for k, v := range s.st.AlgorithmStates {
		st.AlgorithmStates[k] = v
	}
	st.AlgorithmErrors = make(map[string]string, len(s.st.AlgorithmErrors))
	for k, v := range s.st.AlgorithmErrors {
		st.AlgorithmErrors[k] = v
	}
	return st
}

// ProgressNames returns algorithm names with a progress entry, sorted.
func (st SegmentationState) ProgressNames() []string {
	names := make([]string, 0, len(st.Progress))
	for k := range st.Progress {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// appendHistory puts results first, in order, dropping older entries with
// the same (algorithm, created_at) key, capped at MaxResultHistory.
func appendHistory(h, results []types.SegmentationResult) []types.SegmentationResult {
	seen := make(map[string]bool, len(h)+len(results))
	out := make([]types.SegmentationResult, 0, len(h)+len(results))
	for _, list := range [][]types.SegmentationResult{results, h} {
		for _, r := range list {
			k := r.HistoryKey()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
			if len(out) == MaxResultHistory {
				return out
			}
		}
	}
	return out
}

// NormalizeValue maps numeric kinds to int or float64 and keeps strings;
// other values are stored as given.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return x
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	case float32:
		return float64(x)
	}
	return v
}

func cloneConfigs(c []types.AlgorithmConfig) []types.AlgorithmConfig {
	if c == nil {
		return nil
	}
	out := make([]types.AlgorithmConfig, len(c))
	for i, a := range c {
		out[i] = a.Clone()
	}
	return out
}

func cloneResults(r []types.SegmentationResult) []types.SegmentationResult {
	if r == nil {
		return nil
	}
	out := make([]types.SegmentationResult, len(r))
	for i, x := range r {
		out[i] = x.Clone()
	}
	return out
}
