package domain

import (
	"errors"
	"testing"
)

func TestGameValidate(t *testing.T) {
	valid := Game{Code: "123456", QuizID: "quiz-1", HostID: "host-1", State: StateLobby, CurrentQuestionIndex: -1, QuestionCount: 2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid lobby rejected: %v", err)
	}

	cases := map[string]func(g *Game){
		"unknown state":       func(g *Game) { g.State = "paused" },
		"lobby with cursor":   func(g *Game) { g.CurrentQuestionIndex = 0 },
		"playing before zero": func(g *Game) { g.State = StateInProgress },
		"cursor past end":     func(g *Game) { g.State = StateQuestionResults; g.CurrentQuestionIndex = 2 },
		"missing host":        func(g *Game) { g.HostID = "" },
	}
	for name, mutate := range cases {
		g := valid
		mutate(&g)
		if err := g.Validate(); !errors.Is(err, ErrMalformedGame) {
			t.Fatalf("%s: expected malformed game, got %v", name, err)
		}
	}
}

func TestQuizValidate(t *testing.T) {
	quiz := Quiz{ID: "quiz-1", Questions: []Question{{Text: "Q", Kind: KindTextEntry, CorrectAnswer: "A"}}}
	if err := quiz.Validate(); err != nil {
		t.Fatalf("valid quiz rejected: %v", err)
	}

	empty := quiz
	empty.Questions = nil
	badKind := quiz
	badKind.Questions = []Question{{Text: "Q", Kind: "essay", CorrectAnswer: "A"}}
	noAnswer := quiz
	noAnswer.Questions = []Question{{Text: "Q", Kind: KindTrueFalse, CorrectAnswer: "  "}}

	for name, q := range map[string]Quiz{"empty": empty, "bad kind": badKind, "no answer": noAnswer} {
		if err := q.Validate(); !errors.Is(err, ErrMalformedQuiz) {
			t.Fatalf("%s: expected malformed quiz, got %v", name, err)
		}
	}
}

func TestParticipantCloneIsDeep(t *testing.T) {
	p := Participant{ID: "p1", GameCode: "123456", Answers: map[int]Answer{0: {Answer: "Paris"}}}
	clone := p.Clone()
	clone.Answers[1] = Answer{Answer: "true"}
	if len(p.Answers) != 1 {
		t.Fatalf("clone shares answers map")
	}
}

func TestErrorKinds(t *testing.T) {
	kinds := map[error]error{
		ErrGameNotFound:        ErrNotFound,
		ErrParticipantNotFound: ErrNotFound,
		ErrNotHost:             ErrForbidden,
		ErrAlreadyAnswered:     ErrInvalidState,
		ErrNoActiveGame:        ErrInvalidState,
		ErrEmptyPseudonym:      ErrInvalidInput,
	}
	for err, kind := range kinds {
		if !errors.Is(err, kind) {
			t.Fatalf("%v does not wrap %v", err, kind)
		}
	}
}

func TestEventRecordKeys(t *testing.T) {
	g := GameEvent(Game{Code: "123456", Version: 3})
	p := ParticipantEvent(Participant{ID: "p1", GameCode: "123456", Version: 2})
	if g.RecordKey() == p.RecordKey() {
		t.Fatalf("game and participant share a record key")
	}
	if p.Code != "123456" || p.Version != 2 {
		t.Fatalf("unexpected participant event %+v", p)
	}
}
