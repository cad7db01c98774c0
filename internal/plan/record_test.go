package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

func implLookup(impls map[string]OpFunc) func(string) (OpFunc, bool) {
	return func(name string) (OpFunc, bool) {
		fn, ok := impls[name]
		return fn, ok
	}
}

func TestRecord_RoundTripBehavior(t *testing.T) {
	nodes, impls := numericOps()
	original := compile(t, nodes, impls, []string{"addOne"}, nil)

	data, err := original.Record().EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	rec, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	relinked, err := Relink(rec, implLookup(impls))
	if err != nil {
		t.Fatalf("Relink failed: %v", err)
	}

	args := map[string]any{"x": 3}
	want, err := original.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("original Invoke failed: %v", err)
	}
	got, err := relinked.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("relinked Invoke failed: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("relinked plan disagrees: want %v, got %v", want, got)
	}
}

func TestRecord_RoundTripMissingArgDiagnostics(t *testing.T) {
	nodes, impls := numericOps()
	original := compile(t, nodes, impls, []string{"addOne"}, nil)

	rec := original.Record()
	relinked, err := Relink(rec, implLookup(impls))
	if err != nil {
		t.Fatalf("Relink failed: %v", err)
	}

	_, origErr := original.Invoke(context.Background(), map[string]any{})
	_, linkErr := relinked.Invoke(context.Background(), map[string]any{})

	var origMiss, linkMiss *graph.MissingArgumentsError
	if !errors.As(origErr, &origMiss) || !errors.As(linkErr, &linkMiss) {
		t.Fatalf("expected MissingArgumentsError from both, got %v and %v", origErr, linkErr)
	}
	if !reflect.DeepEqual(origMiss.Missing, linkMiss.Missing) {
		t.Errorf("missing lists differ: %v vs %v", origMiss.Missing, linkMiss.Missing)
	}
	if !reflect.DeepEqual(origMiss.Blocked, linkMiss.Blocked) {
		t.Errorf("blocked lists differ: %v vs %v", origMiss.Blocked, linkMiss.Blocked)
	}
}

func TestRecord_RoundTripPreservesAsync(t *testing.T) {
	nodes := map[string]graph.Node{
		"left":  {Output: "left", Inputs: []string{"x"}, Async: true},
		"right": {Output: "right", Inputs: []string{"x"}, Async: true},
	}
	echo := func(ctx context.Context, args []any) (any, error) { return args[0], nil }
	impls := map[string]OpFunc{"left": echo, "right": echo}
	original := compile(t, nodes, impls, []string{"left", "right"}, nil)

	relinked, err := Relink(original.Record(), implLookup(impls))
	if err != nil {
		t.Fatalf("Relink failed: %v", err)
	}
	if !relinked.IsAsync {
		t.Errorf("relinked plan lost its async flag")
	}
	out, err := relinked.Invoke(context.Background(), map[string]any{"x": 7})
	if err != nil {
		t.Fatalf("relinked Invoke failed: %v", err)
	}
	if out["left"] != 7 || out["right"] != 7 {
		t.Errorf("unexpected results: %v", out)
	}
}

func TestRelink_MissingOperationFails(t *testing.T) {
	nodes, impls := numericOps()
	original := compile(t, nodes, impls, []string{"addOne"}, nil)

	partial := map[string]OpFunc{"addOne": impls["addOne"]}
	_, err := Relink(original.Record(), implLookup(partial))
	if err == nil {
		t.Fatal("expected linkage error, got nil")
	}
	var linkErr *LinkageError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected *LinkageError, got %T", err)
	}
	if !reflect.DeepEqual(linkErr.Missing, []string{"double"}) {
		t.Errorf("expected missing [double], got %v", linkErr.Missing)
	}
}

func TestRecordLoaders_JSONAndYAML(t *testing.T) {
	nodes, impls := numericOps()
	rec := compile(t, nodes, impls, []string{"addOne"}, nil).Record()

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "plan.json")
	data, err := rec.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	yamlPath := filepath.Join(dir, "plan.yaml")
	ydata, err := yaml.Marshal(rec)
	if err != nil {
		t.Fatalf("yaml.Marshal failed: %v", err)
	}
	if err := os.WriteFile(yamlPath, ydata, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, path := range []string{jsonPath, yamlPath} {
		loaded, err := LoadRecordFile(path)
		if err != nil {
			t.Fatalf("LoadRecordFile(%s) failed: %v", path, err)
		}
		relinked, err := Relink(loaded, implLookup(impls))
		if err != nil {
			t.Fatalf("Relink failed for %s: %v", path, err)
		}
		out, err := relinked.Invoke(context.Background(), map[string]any{"x": 3})
		if err != nil {
			t.Fatalf("Invoke failed for %s: %v", path, err)
		}
		if out["addOne"] != 7 {
			t.Errorf("%s: expected addOne 7, got %v", path, out["addOne"])
		}
	}
}
