package app

import (
	"math"
	"strings"

	"live-quiz-service/internal/domain"
)

const (
	maxPoints      = 1000
	fallbackPoints = 500
)

// Score grades an answer. Correct answers earn up to maxPoints decayed by the
// time already spent on the question; without usable timing data a correct
// answer earns fallbackPoints.
func Score(question domain.Question, answer string, timeLeftSeconds float64) (bool, int) {
	if !strings.EqualFold(answer, question.CorrectAnswer) {
		return false, 0
	}
	if !positiveFinite(timeLeftSeconds) || !positiveFinite(question.TimerSeconds) {
		return true, fallbackPoints
	}
	return true, int(math.Round(maxPoints * timeLeftSeconds / question.TimerSeconds))
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// clampTimeLeft caps a client-reported remaining time at the question timer.
func clampTimeLeft(question domain.Question, timeLeftSeconds float64) float64 {
	if positiveFinite(question.TimerSeconds) && timeLeftSeconds > question.TimerSeconds {
		return question.TimerSeconds
	}
	return timeLeftSeconds
}
