package expr

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/calcgraph"
)

// Sheet is a declarative formula file: a set of named expression
// operations that can be turned into a registry in one step.
type Sheet struct {
	Name     string         `yaml:"name" json:"name"`
	Formulas []SheetFormula `yaml:"formulas" json:"formulas"`
}

// SheetFormula declares one expression operation.
type SheetFormula struct {
	Output      string `yaml:"output" json:"output"`
	Expr        string `yaml:"expr" json:"expr"`
	Async       bool   `yaml:"async,omitempty" json:"async,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LoadSheet parses a formula sheet from a YAML or JSON file, chosen by
// extension (".json" uses JSON, anything else YAML).
func LoadSheet(path string) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formula sheet: %w", err)
	}
	var sheet Sheet
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &sheet); err != nil {
			return nil, fmt.Errorf("failed to parse formula sheet JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &sheet); err != nil {
			return nil, fmt.Errorf("failed to parse formula sheet YAML: %w", err)
		}
	}
	return &sheet, nil
}

// Validate checks every formula: each must name an output and carry an
// expression that parses against the registered function table. Duplicate
// outputs are permitted (last one wins, matching registry semantics) but
// logged, since in a sheet they are usually a mistake.
func (s *Sheet) Validate() error {
	seen := make(map[string]bool, len(s.Formulas))
	for i, formula := range s.Formulas {
		if formula.Output == "" {
			return fmt.Errorf("formula %d has no output name", i)
		}
		if err := Validate(formula.Expr); err != nil {
			return fmt.Errorf("formula %q: %w", formula.Output, err)
		}
		if seen[formula.Output] {
			log.Printf("Sheet %q: duplicate output %q, later definition wins", s.Name, formula.Output)
		}
		seen[formula.Output] = true
	}
	return nil
}

// Operations builds the sheet's operations in declaration order.
func (s *Sheet) Operations() ([]calcgraph.Operation, error) {
	ops := make([]calcgraph.Operation, 0, len(s.Formulas))
	for _, formula := range s.Formulas {
		var options []calcgraph.OperationOption
		if formula.Async {
			options = append(options, calcgraph.WithAsync())
		}
		if formula.Description != "" {
			options = append(options, calcgraph.WithDescription(formula.Description))
		}
		op, err := NewOperation(formula.Output, formula.Expr, options...)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// BuildRegistry validates the sheet and registers every formula into a
// fresh registry.
func (s *Sheet) BuildRegistry() (*calcgraph.Registry, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ops, err := s.Operations()
	if err != nil {
		return nil, err
	}
	registry := calcgraph.NewRegistry()
	registry.RegisterAll(ops)
	return registry, nil
}
