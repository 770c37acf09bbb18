package vat

import "testing"

func TestValidStageTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to Stage
		override bool
		want     bool
	}{
		{"forward single step", StageWaitingForQuarterEnd, StagePaperworkPendingChase, false, true},
		{"forward skip", StagePaperworkPendingChase, StageSentToClient, false, true},
		{"backward without override", StageWorkInProgress, StagePaperworkReceived, false, false},
		{"backward with override", StageWorkInProgress, StagePaperworkReceived, true, true},
		{"same stage", StageWorkInProgress, StageWorkInProgress, false, false},
		{"unknown stage", Stage("LIMBO"), StageFiledToHMRC, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidStageTransition(tc.from, tc.to, tc.override); got != tc.want {
				t.Fatalf("ValidStageTransition(%s, %s, %v) = %v, want %v", tc.from, tc.to, tc.override, got, tc.want)
			}
		})
	}
}
