package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/calcgraph/internal/plan"
)

func testRecord() *plan.Record {
	return &plan.Record{
		Formulas: map[string]string{"out": "v1"},
		Params:   []string{"x"},
		Returns:  []string{"out"},
		Body: plan.RecordBody{
			Binds: []plan.RecordBind{{Name: "x", Slot: "v0"}},
			Waves: []plan.RecordWave{
				{Sync: []plan.RecordInvoke{{Output: "out", Slot: "v1", Inputs: []string{"v0"}}}},
			},
			Results: []plan.RecordResult{{Name: "out", Slot: "v1"}},
		},
	}
}

func TestRecordStore_PutAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")

	store := NewRecordStore(path, nil)
	key := JoinKeys("rk", "pk")
	if err := store.Put("rk", "pk", testRecord()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reopened := NewRecordStore(path, nil)
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 record after reload, got %d", reopened.Len())
	}
	rec, ok := reopened.All()[key]
	if !ok {
		t.Fatal("stored record missing after reload")
	}
	if rec.Formulas["out"] != "v1" {
		t.Errorf("record content lost: %+v", rec)
	}
}

func TestRecordStore_MissingFileStartsEmpty(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "absent.json"), nil)
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d records", store.Len())
	}
}

func TestRecordStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store := NewRecordStore(path, nil)
	if store.Len() != 0 {
		t.Errorf("corrupt store should load empty, got %d records", store.Len())
	}
	// And must still accept writes afterwards.
	if err := store.Put("rk", "pk", testRecord()); err != nil {
		t.Errorf("Put after corrupt load failed: %v", err)
	}
}
