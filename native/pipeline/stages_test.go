package pipeline

import "testing"

func TestFlagsForCoversEveryStage(t *testing.T) {
	cases := []struct {
		stage Stage
		want  StageFlags
	}{
		{StageMarketValidationLoading, StageFlags{IsMarketValidationStage: true}},
		{StageMarketValidationFailure, StageFlags{IsMarketValidationStage: true}},
		{StageMarketValidationSuccess, StageFlags{IsMarketValidationStage: true}},
		{StageEditingReadonly, StageFlags{IsEditingStage: true, IsReadonly: true}},
		{StageEditingConnected, StageFlags{IsEditingStage: true, IsConnected: true}},
		{StageProxy, StageFlags{IsProxyStage: true, IsConnected: true}},
		{StageAllowance, StageFlags{IsAllowanceStage: true, IsConnected: true}},
		{StageAction, StageFlags{IsActionStage: true, IsConnected: true}},
	}
	if len(cases) != int(StageAction)+1 {
		t.Fatalf("test table out of sync with stage enum")
	}
	for _, tc := range cases {
		if got := FlagsFor(tc.stage); got != tc.want {
			t.Fatalf("flags for %s: got %+v, want %+v", tc.stage, got, tc.want)
		}
	}
}

func TestFlagsForExactlyOneGroupFlag(t *testing.T) {
	for stage := StageMarketValidationLoading; stage <= StageAction; stage++ {
		flags := FlagsFor(stage)
		count := 0
		for _, set := range []bool{
			flags.IsMarketValidationStage,
			flags.IsEditingStage,
			flags.IsProxyStage,
			flags.IsAllowanceStage,
			flags.IsActionStage,
		} {
			if set {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("stage %s sets %d group flags, want exactly one", stage, count)
		}
	}
}

func TestReadonlyNeverConnected(t *testing.T) {
	flags := FlagsFor(StageEditingReadonly)
	if flags.IsConnected {
		t.Fatalf("readonly editing must not report connected")
	}
	for stage := StageProxy; stage <= StageAction; stage++ {
		if !FlagsFor(stage).IsConnected {
			t.Fatalf("transaction stage %s must report connected", stage)
		}
	}
}

func TestStageValid(t *testing.T) {
	for stage := StageMarketValidationLoading; stage <= StageAction; stage++ {
		if !stage.Valid() {
			t.Fatalf("stage %d should be valid", stage)
		}
		if stage.String() == "unknown" {
			t.Fatalf("stage %d missing string tag", stage)
		}
	}
	if Stage(99).Valid() {
		t.Fatalf("out of range stage should be invalid")
	}
}
