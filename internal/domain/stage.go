package domain

import "fmt"

// Stage is one named column transform in a dataset pipeline.
type Stage interface {
	Name() string
	Apply(t *Table) error
}

type stageFunc struct {
	name string
	fn   func(*Table) error
}

func (s stageFunc) Name() string         { return s.name }
func (s stageFunc) Apply(t *Table) error { return s.fn(t) }

// NewStage wraps a function as a Stage.
func NewStage(name string, fn func(*Table) error) Stage {
	return stageFunc{name: name, fn: fn}
}

// Transformer runs an ordered list of stages over a copy of a raw table and
// checks the result against an output schema.
type Transformer struct {
	stages []Stage
	schema Schema
}

// NewTransformer creates a Transformer. A nil schema skips output validation.
func NewTransformer(schema Schema, stages ...Stage) *Transformer {
	return &Transformer{stages: stages, schema: schema}
}

// Stages returns the stage names in execution order.
func (tr *Transformer) Stages() []string {
	names := make([]string, len(tr.stages))
	for i, s := range tr.stages {
		names[i] = s.Name()
	}
	return names
}

// Schema returns the output schema.
func (tr *Transformer) Schema() Schema { return tr.schema }

// Transform applies every stage to a clone of raw. The input is never modified.
func (tr *Transformer) Transform(raw *Table) (*Table, error) {
	t := raw.Clone()
	for _, s := range tr.stages {
		if err := s.Apply(t); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	if tr.schema != nil {
		if err := tr.schema.Validate(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}
