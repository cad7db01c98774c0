package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

// Record is the persistable twin of a Plan. Implementations are not
// serializable, so the record carries the original-output-name to
// synthetic-slot mapping instead; Relink resolves each name against a
// registry at load time. The shape is JSON-compatible and also loadable
// from YAML.
type Record struct {
	Formulas map[string]string `json:"formulas" yaml:"formulas"`
	Params   []string          `json:"params" yaml:"params"`
	Returns  []string          `json:"returns" yaml:"returns"`
	IsAsync  bool              `json:"is_async" yaml:"is_async"`
	Body     RecordBody        `json:"body" yaml:"body"`
}

// RecordBody is the portable step listing of a plan.
type RecordBody struct {
	Binds   []RecordBind   `json:"binds" yaml:"binds"`
	Waves   []RecordWave   `json:"waves" yaml:"waves"`
	Results []RecordResult `json:"results" yaml:"results"`
}

// RecordBind associates a raw parameter name with its synthetic slot.
type RecordBind struct {
	Name string `json:"name" yaml:"name"`
	Slot string `json:"slot" yaml:"slot"`
}

// RecordInvoke is one computation step: the operation's original output
// name, the slot receiving its value, and the input slots in declared
// order.
type RecordInvoke struct {
	Output string   `json:"output" yaml:"output"`
	Slot   string   `json:"slot" yaml:"slot"`
	Inputs []string `json:"inputs" yaml:"inputs"`
}

// RecordWave is one dependency layer of the persisted schedule.
type RecordWave struct {
	Sync  []RecordInvoke `json:"sync,omitempty" yaml:"sync,omitempty"`
	Async []RecordInvoke `json:"async,omitempty" yaml:"async,omitempty"`
}

// RecordResult associates a requested output name with the slot holding
// its value.
type RecordResult struct {
	Name string `json:"name" yaml:"name"`
	Slot string `json:"slot" yaml:"slot"`
}

// LinkageError reports a record referencing operations absent from the
// registry it is being relinked against. Missing lists the unresolved
// output names, sorted.
type LinkageError struct {
	Missing []string
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("cannot relink plan: registry lacks operations: %s", strings.Join(e.Missing, ", "))
}

// Record converts the plan into its persistable form.
func (p *Plan) Record() *Record {
	rec := &Record{
		Formulas: make(map[string]string, len(p.FormulaIDs)),
		Params:   append([]string(nil), p.Params...),
		Returns:  append([]string(nil), p.Returns...),
		IsAsync:  p.IsAsync,
	}
	for name, slot := range p.FormulaIDs {
		rec.Formulas[name] = slot
	}
	for _, bind := range p.binds {
		rec.Body.Binds = append(rec.Body.Binds, RecordBind{Name: bind.name, Slot: bind.slot})
	}
	for _, wave := range p.waves {
		var rw RecordWave
		for _, step := range wave.sync {
			rw.Sync = append(rw.Sync, recordInvoke(step))
		}
		for _, step := range wave.async {
			rw.Async = append(rw.Async, recordInvoke(step))
		}
		rec.Body.Waves = append(rec.Body.Waves, rw)
	}
	for _, res := range p.results {
		rec.Body.Results = append(rec.Body.Results, RecordResult{Name: res.name, Slot: res.slot})
	}
	return rec
}

func recordInvoke(step invokeStep) RecordInvoke {
	return RecordInvoke{
		Output: step.output,
		Slot:   step.slot,
		Inputs: append([]string(nil), step.inputSlots...),
	}
}

// Relink reconstructs an executable Plan from a record, binding each
// persisted output name's implementation via lookup. The relinked plan is
// behaviorally equivalent to the one the record was taken from, including
// its missing-argument diagnostics. Fails with a *LinkageError if any
// referenced operation is absent.
func Relink(rec *Record, lookup func(name string) (OpFunc, bool)) (*Plan, error) {
	var missing []string
	impls := make(map[string]OpFunc, len(rec.Formulas))
	for name := range rec.Formulas {
		fn, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		impls[name] = fn
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &LinkageError{Missing: missing}
	}

	// Rebuild the slot -> original-name table so the dependency shape used
	// by diagnostics can be recovered without consulting the registry.
	slotName := make(map[string]string, len(rec.Body.Binds)+len(rec.Formulas))
	for _, bind := range rec.Body.Binds {
		slotName[bind.Slot] = bind.Name
	}
	for name, slot := range rec.Formulas {
		slotName[slot] = name
	}

	p := &Plan{
		ID:         uuid.NewString(),
		FormulaIDs: make(map[string]string, len(rec.Formulas)),
		Params:     append([]string(nil), rec.Params...),
		Returns:    append([]string(nil), rec.Returns...),
		IsAsync:    rec.IsAsync,
		shape:      make(map[string]graph.Node),
	}
	for name, slot := range rec.Formulas {
		p.FormulaIDs[name] = slot
	}
	for _, bind := range rec.Body.Binds {
		p.binds = append(p.binds, bindStep{name: bind.Name, slot: bind.Slot})
	}
	link := func(ri RecordInvoke, async bool) (invokeStep, error) {
		node := graph.Node{Output: ri.Output, Async: async}
		for _, slot := range ri.Inputs {
			name, ok := slotName[slot]
			if !ok {
				return invokeStep{}, fmt.Errorf("record body references unknown slot %q in operation %q", slot, ri.Output)
			}
			node.Inputs = append(node.Inputs, name)
		}
		p.shape[ri.Output] = node
		return invokeStep{
			output:     ri.Output,
			slot:       ri.Slot,
			inputSlots: append([]string(nil), ri.Inputs...),
			fn:         impls[ri.Output],
		}, nil
	}
	for _, rw := range rec.Body.Waves {
		var pw planWave
		for _, ri := range rw.Sync {
			step, err := link(ri, false)
			if err != nil {
				return nil, err
			}
			pw.sync = append(pw.sync, step)
		}
		for _, ri := range rw.Async {
			step, err := link(ri, true)
			if err != nil {
				return nil, err
			}
			pw.async = append(pw.async, step)
		}
		p.waves = append(p.waves, pw)
	}
	for _, res := range rec.Body.Results {
		p.results = append(p.results, resultStep{name: res.Name, slot: res.Slot})
	}
	return p, nil
}

// EncodeJSON serializes the record as JSON.
func (r *Record) EncodeJSON() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeJSON parses a record from JSON.
func DecodeJSON(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse plan record JSON: %w", err)
	}
	return &rec, nil
}

// RecordLoader loads a persisted plan record from a file in one particular
// format.
type RecordLoader interface {
	Load(path string) (*Record, error)
	Format() string // e.g. "json", "yaml"
}

var loaderRegistry = make(map[string]RecordLoader)

// RegisterRecordLoader registers a loader for its format name.
func RegisterRecordLoader(loader RecordLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetRecordLoader retrieves a loader by format name.
func GetRecordLoader(format string) (RecordLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// JSONLoader loads plan records from JSON files.
type JSONLoader struct{}

func (JSONLoader) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan record file: %w", err)
	}
	return DecodeJSON(data)
}

func (JSONLoader) Format() string { return "json" }

// YAMLLoader loads plan records from YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan record file: %w", err)
	}
	defer f.Close()
	var rec Record
	if err := yaml.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse plan record YAML: %w", err)
	}
	return &rec, nil
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterRecordLoader(JSONLoader{})
	RegisterRecordLoader(YAMLLoader{})
}

// LoadRecordFile loads a record choosing the loader from the file
// extension (".yaml"/".yml" use the YAML loader, anything else JSON).
func LoadRecordFile(path string) (*Record, error) {
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	loader, ok := GetRecordLoader(format)
	if !ok {
		return nil, fmt.Errorf("no plan record loader registered for format %q", format)
	}
	return loader.Load(path)
}
