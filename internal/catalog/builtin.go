// Package catalog provides the algorithm catalog used when the backend
// cannot be reached, and loading of catalog files for the mock server.
package catalog

import "segclient/pkg/types"

func f(v float64) *float64 { return &v }

func param(name string, value any, min, max, step float64, typ types.ParamType) types.ParameterSchema {
	return types.ParameterSchema{Name: name, Value: value, MinValue: f(min), MaxValue: f(max), Step: f(step), Type: typ}
}

// Builtin returns a fresh copy of the fallback catalog.
func Builtin() []types.AlgorithmInfo {
	return []types.AlgorithmInfo{
		{
			Name:        types.AlgorithmFelzenszwalb,
			DisplayName: "Felzenszwalb",
			Description: "Efficient graph-based segmentation",
			DefaultParameters: map[string]types.ParameterSchema{
				"scale":    param("scale", 100, 1, 1000, 1, types.ParamInt),
				"sigma":    param("sigma", 0.5, 0.1, 2.0, 0.1, types.ParamFloat),
				"min_size": param("min_size", 50, 1, 500, 1, types.ParamInt),
			},
		},
		{
			Name:        types.AlgorithmSLIC,
			DisplayName: "SLIC",
			Description: "Simple Linear Iterative Clustering",
			DefaultParameters: map[string]types.ParameterSchema{
				"n_segments":  param("n_segments", 250, 10, 1000, 1, types.ParamInt),
				"compactness": param("compactness", 10, 1, 50, 1, types.ParamInt),
				"sigma":       param("sigma", 1, 0.1, 5.0, 0.1, types.ParamFloat),
			},
		},
		{
			Name:        types.AlgorithmQuickshift,
			DisplayName: "Quickshift",
			Description: "Quick shift image segmentation",
			DefaultParameters: map[string]types.ParameterSchema{
				"kernel_size": param("kernel_size", 3, 1, 10, 1, types.ParamInt),
				"max_dist":    param("max_dist", 6, 1, 20, 1, types.ParamInt),
				"ratio":       param("ratio", 0.5, 0.1, 1.0, 0.1, types.ParamFloat),
			},
		},
		{
			Name:        types.AlgorithmWatershed,
			DisplayName: "Watershed",
			Description: "Watershed segmentation algorithm",
			DefaultParameters: map[string]types.ParameterSchema{
				"markers":     param("markers", 250, 10, 1000, 1, types.ParamInt),
				"compactness": param("compactness", 0, 0, 1, 0.1, types.ParamFloat),
			},
		},
	}
}

// Find returns the entry named name.
func Find(list []types.AlgorithmInfo, name string) (types.AlgorithmInfo, bool) {
	for _, a := range list {
		if a.Name == name {
			return a, true
		}
	}
	return types.AlgorithmInfo{}, false
}

// Names lists the algorithm names in catalog order.
func Names(list []types.AlgorithmInfo) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Name)
	}
	return out
}
