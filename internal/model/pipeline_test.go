package model

import "testing"

func TestPlanStages(t *testing.T) {
	t.Parallel()
	plan, err := PlanStages(12, 4)
	if err != nil {
		t.Fatalf("PlanStages: %v", err)
	}
	if len(plan.Stages) != 4 {
		t.Fatalf("stage count = %d, want 4", len(plan.Stages))
	}
	for s, r := range plan.Stages {
		if r.Stage != s || r.First != s*3 || r.Last != (s+1)*3 {
			t.Fatalf("stage %d range = %+v", s, r)
		}
	}
	if plan.StageOf(0) != 0 || plan.StageOf(5) != 1 || plan.StageOf(11) != 3 {
		t.Fatal("StageOf mismatch")
	}
	if plan.IsBoundary(0) {
		t.Fatal("layer 0 is never a boundary")
	}
	if !plan.IsBoundary(3) || !plan.IsBoundary(9) {
		t.Fatal("expected stage boundaries at 3 and 9")
	}
	if plan.IsBoundary(4) {
		t.Fatal("layer 4 is not a boundary")
	}
}

func TestPlanStagesErrors(t *testing.T) {
	t.Parallel()
	if _, err := PlanStages(12, 0); err == nil {
		t.Fatal("zero stages should fail")
	}
	if _, err := PlanStages(12, 5); err == nil {
		t.Fatal("indivisible split should fail")
	}
}
