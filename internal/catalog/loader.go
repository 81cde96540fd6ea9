package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"segclient/internal/common/fsutil"
	"segclient/pkg/types"
)

type fileParam struct {
	Value any     `json:"value" yaml:"value" toml:"value"`
	Min   float64 `json:"min" yaml:"min" toml:"min"`
	Max   float64 `json:"max" yaml:"max" toml:"max"`
	Step  float64 `json:"step" yaml:"step" toml:"step"`
	Type  string  `json:"type" yaml:"type" toml:"type"`
}

type fileAlgorithm struct {
	Name        string               `json:"name" yaml:"name" toml:"name"`
	DisplayName string               `json:"display_name" yaml:"display_name" toml:"display_name"`
	Description string               `json:"description" yaml:"description" toml:"description"`
	Parameters  map[string]fileParam `json:"parameters" yaml:"parameters" toml:"parameters"`
}

type fileCatalog struct {
	Algorithms []fileAlgorithm `json:"algorithms" yaml:"algorithms" toml:"algorithms"`
}

// LoadFile reads a catalog from a .yaml/.yml, .json or .toml file.
func LoadFile(path string) ([]types.AlgorithmInfo, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var fc fileCatalog
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = json.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		return nil, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return fc.toInfo()
}

func (fc fileCatalog) toInfo() ([]types.AlgorithmInfo, error) {
	seen := make(map[string]bool, len(fc.Algorithms))
	out := make([]types.AlgorithmInfo, 0, len(fc.Algorithms))
	for i, a := range fc.Algorithms {
		if a.Name == "" {
			return nil, fmt.Errorf("algorithm %d: missing name", i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("algorithm %s: duplicate entry", a.Name)
		}
		seen[a.Name] = true
		info := types.AlgorithmInfo{
			Name:              a.Name,
			DisplayName:       a.DisplayName,
			Description:       a.Description,
			DefaultParameters: make(map[string]types.ParameterSchema, len(a.Parameters)),
		}
		if info.DisplayName == "" {
			info.DisplayName = a.Name
		}
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fp := a.Parameters[k]
			typ := types.ParamType(fp.Type)
			switch typ {
			case types.ParamInt, types.ParamFloat, types.ParamString:
			case "":
				typ = types.ParamFloat
			default:
				return nil, fmt.Errorf("algorithm %s: parameter %s has unknown type %q", a.Name, k, fp.Type)
			}
			schema := types.ParameterSchema{Name: k, Value: fp.Value, Type: typ}
			if typ != types.ParamString {
				schema.MinValue, schema.MaxValue, schema.Step = f(fp.Min), f(fp.Max), f(fp.Step)
			}
			info.DefaultParameters[k] = schema
		}
		out = append(out, info)
	}
	return out, nil
}
