package broadcast

import "testing"

func TestSequencerTracksRecordsIndependently(t *testing.T) {
	seq := NewSequencer()
	steps := []struct {
		name  string
		admit bool
		ok    bool
	}{
		{"game v1", seq.Admit(gameEvent("111111", 1)), true},
		{"p1 v1", seq.Admit(participantEvent("111111", "p1", 1)), true},
		{"p2 v1", seq.Admit(participantEvent("111111", "p2", 1)), true},
		{"game v1 again", seq.Admit(gameEvent("111111", 1)), false},
		{"p1 v3", seq.Admit(participantEvent("111111", "p1", 3)), true},
		{"p1 v2 late", seq.Admit(participantEvent("111111", "p1", 2)), false},
		{"game v2", seq.Admit(gameEvent("111111", 2)), true},
	}
	for _, step := range steps {
		if step.admit != step.ok {
			t.Fatalf("%s: admitted=%v, want %v", step.name, step.admit, step.ok)
		}
	}
}
