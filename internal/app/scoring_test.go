package app

import (
	"math"
	"testing"

	"live-quiz-service/internal/domain"
)

func TestScore(t *testing.T) {
	paris := domain.Question{
		Text:          "Capital of France?",
		Kind:          domain.KindMultipleChoice,
		TimerSeconds:  30,
		Options:       []string{"Paris", "London"},
		CorrectAnswer: "Paris",
	}
	untimed := paris
	untimed.TimerSeconds = 0

	cases := []struct {
		name     string
		question domain.Question
		answer   string
		timeLeft float64
		correct  bool
		points   int
	}{
		{"half time left", paris, "Paris", 15, true, 500},
		{"full time left", paris, "Paris", 30, true, 1000},
		{"case insensitive", paris, "pARIS", 30, true, 1000},
		{"rounds to nearest", paris, "Paris", 10, true, 333},
		{"wrong answer", paris, "london", 30, false, 0},
		{"wrong answer without timing", paris, "Rome", math.NaN(), false, 0},
		{"nan time left", paris, "Paris", math.NaN(), true, 500},
		{"infinite time left", paris, "Paris", math.Inf(1), true, 500},
		{"zero time left", paris, "Paris", 0, true, 500},
		{"negative time left", paris, "Paris", -3, true, 500},
		{"missing timer", untimed, "Paris", 10, true, 500},
		{"surrounding whitespace is not trimmed", paris, " Paris", 30, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			correct, points := Score(tc.question, tc.answer, tc.timeLeft)
			if correct != tc.correct || points != tc.points {
				t.Fatalf("Score(%q, %v) = (%v, %d), want (%v, %d)", tc.answer, tc.timeLeft, correct, points, tc.correct, tc.points)
			}
		})
	}
}

func TestClampTimeLeft(t *testing.T) {
	q := domain.Question{TimerSeconds: 20}
	if got := clampTimeLeft(q, 45); got != 20 {
		t.Fatalf("expected clamp to timer, got %v", got)
	}
	if got := clampTimeLeft(q, 5); got != 5 {
		t.Fatalf("expected value kept, got %v", got)
	}
	if got := clampTimeLeft(domain.Question{}, 45); got != 45 {
		t.Fatalf("expected value kept without timer, got %v", got)
	}
}
