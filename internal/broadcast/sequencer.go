package broadcast

import "live-quiz-service/internal/domain"

// Sequencer keeps each record's history monotonic for one viewer: an event is
// admitted only if its version is newer than the last admitted version of the
// same record. It is not safe for concurrent use.
type Sequencer struct {
	last map[string]int64
}

func NewSequencer() *Sequencer {
	return &Sequencer{last: make(map[string]int64)}
}

func (s *Sequencer) Admit(event domain.Event) bool {
	key := event.RecordKey()
	if last, ok := s.last[key]; ok && event.Version <= last {
		return false
	}
	s.last[key] = event.Version
	return true
}
