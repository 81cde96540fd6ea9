package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segclient/pkg/types"
)

func fiveAlgorithms() []types.AlgorithmInfo {
	var out []types.AlgorithmInfo
	for i := 0; i < 5; i++ {
		out = append(out, types.AlgorithmInfo{
			Name: fmt.Sprintf("algo%d", i),
			DefaultParameters: map[string]types.ParameterSchema{
				"k": {Name: "k", Value: i, Type: types.ParamInt},
			},
		})
	}
	return out
}

func result(algo, created string) types.SegmentationResult {
	return types.SegmentationResult{AlgorithmName: algo, CreatedAt: created, SegmentsCount: 1}
}

func TestLoadAlgorithmsFallsBackToBuiltin(t *testing.T) {
	api := &fakeSegAPI{listErr: errors.New("offline")}
	s := NewSegmentationStore(api, newFixture().options())

	err := s.LoadAlgorithms(context.Background())
	assert.Error(t, err)
	st := s.Snapshot()
	assert.Len(t, st.Available, 4)
	assert.Equal(t, CatalogBuiltin, st.CatalogSource)
	assert.False(t, st.IsLoadingAlgorithms)

	empty := NewSegmentationStore(&fakeSegAPI{}, newFixture().options())
	require.NoError(t, empty.LoadAlgorithms(context.Background()))
	assert.Equal(t, CatalogBuiltin, empty.Snapshot().CatalogSource)

	noAPI := NewSegmentationStore(nil, newFixture().options())
	_ = noAPI.LoadAlgorithms(context.Background())
	assert.Len(t, noAPI.Available(), 4)
}

func TestLoadAlgorithmsFromBackend(t *testing.T) {
	s := NewSegmentationStore(&fakeSegAPI{algos: fiveAlgorithms()}, newFixture().options())
	require.NoError(t, s.LoadAlgorithms(context.Background()))
	require.NoError(t, s.LoadAlgorithms(context.Background()))
	st := s.Snapshot()
	assert.Len(t, st.Available, 5)
	assert.Equal(t, CatalogBackend, st.CatalogSource)
	assert.Contains(t, st.Progress, "algo4")
}

func TestToggleRespectsCap(t *testing.T) {
	s := NewSegmentationStore(&fakeSegAPI{algos: fiveAlgorithms()}, newFixture().options())
	require.NoError(t, s.LoadAlgorithms(context.Background()))

	for i := 0; i < 4; i++ {
		assert.True(t, s.ToggleAlgorithm(fmt.Sprintf("algo%d", i)))
	}
	assert.False(t, s.CanAddMoreAlgorithms())
	assert.False(t, s.ToggleAlgorithm("algo4"))
	assert.Len(t, s.Active(), MaxActiveAlgorithms)

	assert.False(t, s.ToggleAlgorithm("nope"))

	assert.True(t, s.ToggleAlgorithm("algo1"))
	assert.True(t, s.CanAddMoreAlgorithms())
	assert.True(t, s.ToggleAlgorithm("algo4"))

	active := s.Active()
	require.Len(t, active, 4)
	assert.Equal(t, "algo4", active[3].Name)
	assert.Equal(t, 4, active[3].Parameters["k"])
	assert.True(t, active[3].IsActive)
}

func TestSetActiveAlgorithmsDedupsAndCaps(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.SetActiveAlgorithms([]types.AlgorithmConfig{
		{Name: "a"}, {Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"},
	})
	names := []string{}
	for _, a := range s.Active() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
	assert.False(t, s.AddAlgorithm(types.AlgorithmConfig{Name: "e"}))
	assert.True(t, s.RemoveAlgorithm("a"))
	assert.False(t, s.RemoveAlgorithm("a"))
}

func TestUpdateParameterStoresVerbatim(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic", Parameters: map[string]any{"n_segments": 250}})

	assert.True(t, s.UpdateParameter("slic", "n_segments", int64(99999)))
	assert.True(t, s.UpdateParameter("slic", "mode", "fast"))
	assert.False(t, s.UpdateParameter("missing", "x", 1))

	p := s.Active()[0].Parameters
	assert.Equal(t, 99999, p["n_segments"])
	assert.Equal(t, "fast", p["mode"])
}

func TestProcessSegmentationPreconditions(t *testing.T) {
	api := &fakeSegAPI{}
	s := NewSegmentationStore(api, newFixture().options())

	_, err := s.ProcessSegmentation(context.Background(), "", types.ViewSingle)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = s.ProcessSegmentation(context.Background(), "img", types.ViewSingle)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrNoAlgorithms)

	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic"})
	_, err = s.ProcessSegmentation(context.Background(), "img", "mosaic")
	assert.True(t, IsValidation(err))

	assert.Equal(t, 0, api.calls())
	assert.False(t, s.IsProcessing())
}

func TestProcessSegmentationReplacesResultsAndAppendsHistory(t *testing.T) {
	api := &fakeSegAPI{segment: func(n int, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
		var rs []types.SegmentationResult
		for _, a := range req.Algorithms {
			rs = append(rs, result(a.Name, fmt.Sprintf("t%d", n)))
		}
		return &types.SegmentationResponse{RequestID: fmt.Sprintf("req-%d", n), Results: rs}, nil
	}}
	f := newFixture()
	s := NewSegmentationStore(api, f.options())
	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic"})
	s.AddAlgorithm(types.AlgorithmConfig{Name: "watershed"})

	_, err := s.ProcessSegmentation(context.Background(), "img", "")
	require.NoError(t, err)
	assert.Equal(t, types.ViewSingle, api.requests[0].ViewMode)
	assert.Len(t, api.requests[0].Algorithms, 2)

	resp, err := s.ProcessSegmentation(context.Background(), "img", types.ViewSplit)
	require.NoError(t, err)
	assert.Equal(t, "req-2", resp.RequestID)

	st := s.Snapshot()
	require.Len(t, st.Results, 2)
	assert.Equal(t, "t2", st.Results[0].CreatedAt)
	assert.Len(t, st.ResultHistory, 4)
	assert.Equal(t, "t2", st.ResultHistory[0].CreatedAt)
	assert.False(t, st.IsProcessing)
	assert.Equal(t, RunIdle, st.RunState)
	assert.Equal(t, AlgoCompleted, st.AlgorithmStates["slic"])
	assert.Equal(t, "req-2", st.LastRequestID)
	assert.Contains(t, f.events.Names("segmentation"), "processing_done")
}

func TestProcessSegmentationFailureKeepsResults(t *testing.T) {
	fail := false
	api := &fakeSegAPI{segment: func(n int, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return &types.SegmentationResponse{Results: []types.SegmentationResult{result("slic", "t1")}}, nil
	}}
	s := NewSegmentationStore(api, newFixture().options())
	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic"})
	_, err := s.ProcessSegmentation(context.Background(), "img", types.ViewSingle)
	require.NoError(t, err)

	fail = true
	_, err = s.ProcessSegmentation(context.Background(), "img", types.ViewSingle)
	require.Error(t, err)
	st := s.Snapshot()
	assert.Equal(t, "backend down", st.Error)
	assert.Len(t, st.Results, 1)
	assert.False(t, st.IsProcessing)
	assert.Equal(t, AlgoFailed, st.AlgorithmStates["slic"])
}

func TestStaleSegmentationResponseOnlyFeedsHistory(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeSegAPI{segment: func(n int, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
		if n == 1 {
			close(started)
			<-release
			return &types.SegmentationResponse{RequestID: "old", Results: []types.SegmentationResult{result("slic", "old")}}, nil
		}
		return &types.SegmentationResponse{RequestID: "new", Results: []types.SegmentationResult{result("slic", "new")}}, nil
	}}
	s := NewSegmentationStore(api, newFixture().options())
	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.ProcessSegmentation(context.Background(), "img", types.ViewSingle)
	}()
	<-started
	_, err := s.ProcessSegmentation(context.Background(), "img", types.ViewSingle)
	require.NoError(t, err)
	close(release)
	wg.Wait()

	st := s.Snapshot()
	require.Len(t, st.Results, 1)
	assert.Equal(t, "new", st.Results[0].CreatedAt)
	assert.Equal(t, "new", st.LastRequestID)
	assert.Len(t, st.ResultHistory, 2)
	assert.Equal(t, "old", st.ResultHistory[0].CreatedAt)
}

func TestDuplexEventsTouchProgressAndHistoryOnly(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.SetResults([]types.SegmentationResult{result("slic", "rest")})

	s.ApplyStart("slic")
	assert.Equal(t, AlgoRunning, s.Snapshot().AlgorithmStates["slic"])
	s.ApplyProgress("slic", 42.7)
	s.ApplyProgress("watershed", 180)
	s.ApplyProgress("quickshift", -3)
	s.ApplyComplete(result("slic", "ws"))
	s.ApplyComplete(result("slic", "ws"))
	s.ApplyError("watershed", "out of memory")

	st := s.Snapshot()
	assert.Equal(t, 100, st.Progress["slic"])
	assert.Equal(t, 100, st.Progress["watershed"])
	assert.Equal(t, 0, st.Progress["quickshift"])
	require.Len(t, st.Results, 1)
	assert.Equal(t, "rest", st.Results[0].CreatedAt)
	assert.Len(t, st.ResultHistory, 1)
	assert.Equal(t, AlgoCompleted, st.AlgorithmStates["slic"])
	assert.Equal(t, AlgoFailed, st.AlgorithmStates["watershed"])
	assert.Equal(t, "out of memory", st.AlgorithmErrors["watershed"])
}

func TestStreamRunState(t *testing.T) {
	f := newFixture()
	s := NewSegmentationStore(nil, f.options())
	s.SetError("earlier")

	s.BeginStream([]types.AlgorithmConfig{{Name: "slic"}, {Name: "watershed"}})
	st := s.Snapshot()
	assert.True(t, st.IsProcessing)
	assert.Equal(t, RunRequested, st.RunState)
	assert.Empty(t, st.Error)
	assert.Equal(t, AlgoQueued, st.AlgorithmStates["watershed"])

	s.EndStream("")
	st = s.Snapshot()
	assert.False(t, st.IsProcessing)
	assert.Equal(t, RunIdle, st.RunState)
	assert.Empty(t, st.Error)

	s.BeginStream([]types.AlgorithmConfig{{Name: "slic"}})
	s.EndStream("Image not found")
	assert.False(t, s.IsProcessing())
	assert.Equal(t, "Image not found", s.Snapshot().Error)

	names := f.events.Names("segmentation")
	assert.Contains(t, names, "processing_started")
	assert.Contains(t, names, "processing_done")
	assert.Contains(t, names, "processing_failed")
}

func TestSnapshotDoesNotShareResults(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	r := result("slic", "a")
	r.ParametersUsed = map[string]any{"n_segments": 100}
	r.Metrics = &types.PerformanceMetrics{SegmentsCount: 7}
	s.SetResults([]types.SegmentationResult{r})
	s.ReplaceResult(r)

	snap := s.Snapshot()
	snap.Results[0].ParametersUsed["n_segments"] = 1
	snap.Results[0].Metrics.SegmentsCount = 0
	snap.ResultHistory[0].ParametersUsed["n_segments"] = 1
	r.ParametersUsed["n_segments"] = 2

	again := s.Snapshot()
	assert.Equal(t, 100, again.Results[0].ParametersUsed["n_segments"])
	assert.Equal(t, 7, again.Results[0].Metrics.SegmentsCount)
	assert.Equal(t, 100, again.ResultHistory[0].ParametersUsed["n_segments"])
	assert.Equal(t, 100, s.Results()[0].ParametersUsed["n_segments"])
}

func TestProgressPartial(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.ApplyProgress("slic", 42.7)
	assert.Equal(t, 42, s.Snapshot().Progress["slic"])
}

func TestReplaceResult(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.SetResults([]types.SegmentationResult{result("slic", "a"), result("watershed", "a")})

	s.ReplaceResult(result("watershed", "b"))
	s.ReplaceResult(result("quickshift", "b"))

	rs := s.Results()
	require.Len(t, rs, 3)
	assert.Equal(t, "b", rs[1].CreatedAt)
	assert.Equal(t, "quickshift", rs[2].AlgorithmName)
	assert.Len(t, s.Snapshot().ResultHistory, 2)
}

func TestClearResultsZeroesProgressKeepsHistory(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	s.ApplyProgress("slic", 80)
	s.ApplyComplete(result("slic", "a"))
	s.SetResults([]types.SegmentationResult{result("slic", "a")})

	s.ClearResults()
	st := s.Snapshot()
	assert.Empty(t, st.Results)
	for _, name := range st.ProgressNames() {
		assert.Equal(t, 0, st.Progress[name], name)
	}
	assert.Contains(t, st.Progress, types.AlgorithmFelzenszwalb)
	assert.Len(t, st.ResultHistory, 1)

	s.ClearResultHistory()
	assert.Empty(t, s.Snapshot().ResultHistory)
}

func TestResultHistoryCap(t *testing.T) {
	s := NewSegmentationStore(nil, newFixture().options())
	for i := 0; i < MaxResultHistory+10; i++ {
		s.ApplyComplete(result("slic", fmt.Sprintf("%03d", i)))
	}
	h := s.Snapshot().ResultHistory
	require.Len(t, h, MaxResultHistory)
	assert.Equal(t, "109", h[0].CreatedAt)
}

func TestSegmentationStatePersists(t *testing.T) {
	f := newFixture()
	s := NewSegmentationStore(nil, f.options())
	s.AddAlgorithm(types.AlgorithmConfig{Name: "slic", Parameters: map[string]any{"n_segments": 100}})
	s.ApplyComplete(result("slic", "a"))

	again := NewSegmentationStore(nil, f.options())
	require.NoError(t, again.Load(context.Background()))
	require.Len(t, again.Active(), 1)
	assert.EqualValues(t, 100, again.Active()[0].Parameters["n_segments"])
	assert.Len(t, again.Snapshot().ResultHistory, 1)
}
