package model

import "fmt"

// StageRange is a contiguous, half-open range of decoder layers assigned to
// one pipeline stage.
type StageRange struct {
	Stage int
	First int
	Last  int // exclusive
}

// StagePlan records how decoder layers split into pipeline stages. It is
// bookkeeping only; the runtime executes all stages in process.
type StagePlan struct {
	Layers int
	Stages []StageRange
}

// PlanStages splits layers evenly into stages. The layer count must divide
// evenly, matching the contract of the pipeline boundaries it mirrors.
func PlanStages(layers, stages int) (*StagePlan, error) {
	if stages <= 0 {
		return nil, fmt.Errorf("model: pipeline stages must be positive, got %d", stages)
	}
	if layers%stages != 0 {
		return nil, fmt.Errorf("model: %d layers not divisible by %d pipeline stages", layers, stages)
	}
	per := layers / stages
	plan := &StagePlan{Layers: layers, Stages: make([]StageRange, stages)}
	for s := 0; s < stages; s++ {
		plan.Stages[s] = StageRange{Stage: s, First: s * per, Last: (s + 1) * per}
	}
	return plan, nil
}

// StageOf returns the stage index owning the given layer.
func (p *StagePlan) StageOf(layer int) int {
	per := p.Layers / len(p.Stages)
	return layer / per
}

// IsBoundary reports whether the given layer starts a new stage (other than
// the first).
func (p *StagePlan) IsBoundary(layer int) bool {
	if layer == 0 {
		return false
	}
	per := p.Layers / len(p.Stages)
	return layer%per == 0
}
