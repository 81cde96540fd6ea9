package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"segclient/pkg/types"
)

func TestBuiltinDefaults(t *testing.T) {
	list := Builtin()
	if got := Names(list); len(got) != 4 || got[0] != "felzenszwalb" || got[3] != "watershed" {
		t.Fatalf("unexpected names: %v", got)
	}
	fz, ok := Find(list, types.AlgorithmFelzenszwalb)
	if !ok {
		t.Fatalf("felzenszwalb missing")
	}
	d := fz.Defaults()
	if d["scale"] != 100 || d["sigma"] != 0.5 || d["min_size"] != 50 {
		t.Fatalf("felzenszwalb defaults: %v", d)
	}
	ws, _ := Find(list, types.AlgorithmWatershed)
	if s := ws.DefaultParameters["compactness"]; *s.Step != 0.1 || *s.MaxValue != 1 || s.Type != types.ParamFloat {
		t.Fatalf("watershed compactness schema: %+v", s)
	}
	if _, ok := Find(list, "kmeans"); ok {
		t.Fatalf("unexpected algorithm found")
	}
}

func TestBuiltinReturnsCopies(t *testing.T) {
	a := Builtin()
	a[0].DefaultParameters["scale"] = types.ParameterSchema{Name: "scale", Value: 1}
	b := Builtin()
	if b[0].DefaultParameters["scale"].Value != 100 {
		t.Fatalf("catalog shared between calls")
	}
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "catalog.yaml")
	content := `algorithms:
  - name: kmeans
    display_name: K-Means
    parameters:
      k: {value: 8, min: 2, max: 32, step: 1, type: int}
      init: {value: random, type: string}
  - name: otsu
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := LoadFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 2 || list[0].DisplayName != "K-Means" || list[1].DisplayName != "otsu" {
		t.Fatalf("unexpected catalog: %+v", list)
	}
	k := list[0].DefaultParameters["k"]
	if k.Value != 8 || *k.MaxValue != 32 || k.Type != types.ParamInt {
		t.Fatalf("k schema: %+v", k)
	}
	if s := list[0].DefaultParameters["init"]; s.MinValue != nil || s.Value != "random" {
		t.Fatalf("string param should carry no range: %+v", s)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}
	cases := []string{
		write("dup.json", `{"algorithms":[{"name":"a"},{"name":"a"}]}`),
		write("noname.toml", "[[algorithms]]\ndisplay_name = \"x\"\n"),
		write("badtype.json", `{"algorithms":[{"name":"a","parameters":{"p":{"type":"bool"}}}]}`),
		write("catalog.ini", "x"),
		filepath.Join(dir, "missing.yaml"),
	}
	for _, p := range cases {
		if _, err := LoadFile(p); err == nil {
			t.Fatalf("%s: expected error", filepath.Base(p))
		}
	}
}
