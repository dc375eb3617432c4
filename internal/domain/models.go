package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuestionKind is the answer format of a question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple-choice"
	KindTrueFalse      QuestionKind = "true-false"
	KindTextEntry      QuestionKind = "text-entry"
)

func (k QuestionKind) Valid() bool {
	switch k {
	case KindMultipleChoice, KindTrueFalse, KindTextEntry:
		return true
	}
	return false
}

// Question is one step of a quiz. TimerSeconds is advisory for clients and
// feeds the time-decayed score.
type Question struct {
	Text          string       `json:"text"`
	Kind          QuestionKind `json:"type"`
	TimerSeconds  float64      `json:"timer"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"answer"`
}

// Quiz is owned by the quiz management service; live games only read it.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatorID string     `json:"creatorId"`
	Questions []Question `json:"questions"`
}

// Validate rejects quiz documents the game engine cannot run.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedQuiz)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %s has no questions", ErrMalformedQuiz, q.ID)
	}
	for i, question := range q.Questions {
		if !question.Kind.Valid() {
			return fmt.Errorf("%w: question %d has unknown type %q", ErrMalformedQuiz, i, question.Kind)
		}
		if strings.TrimSpace(question.CorrectAnswer) == "" {
			return fmt.Errorf("%w: question %d has no answer", ErrMalformedQuiz, i)
		}
	}
	return nil
}

// GameState is the position of a game in its lifecycle.
type GameState string

const (
	StateLobby           GameState = "lobby"
	StateInProgress      GameState = "in-progress"
	StateQuestionResults GameState = "question-results"
	StateFinalResults    GameState = "final-results"
)

func (s GameState) Valid() bool {
	switch s {
	case StateLobby, StateInProgress, StateQuestionResults, StateFinalResults:
		return true
	}
	return false
}

// Game is the root record of one live session.
type Game struct {
	Code                 string    `json:"code"`
	QuizID               string    `json:"quizId"`
	HostID               string    `json:"hostId"`
	State                GameState `json:"state"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	QuestionCount        int       `json:"questionCount"`
	QuestionStartedAt    time.Time `json:"questionStartedAt,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	Version              int64     `json:"version"`
}

// Validate checks the cursor invariants of a stored game record.
func (g Game) Validate() error {
	if g.Code == "" || g.QuizID == "" || g.HostID == "" {
		return fmt.Errorf("%w: missing identity fields", ErrMalformedGame)
	}
	if !g.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrMalformedGame, g.State)
	}
	if g.State == StateLobby {
		if g.CurrentQuestionIndex != -1 {
			return fmt.Errorf("%w: lobby game with cursor %d", ErrMalformedGame, g.CurrentQuestionIndex)
		}
		return nil
	}
	if g.CurrentQuestionIndex < 0 || g.CurrentQuestionIndex >= g.QuestionCount {
		return fmt.Errorf("%w: cursor %d out of range [0,%d)", ErrMalformedGame, g.CurrentQuestionIndex, g.QuestionCount)
	}
	return nil
}

// IsHost reports whether userID owns the game.
func (g Game) IsHost(userID string) bool {
	return userID != "" && g.HostID == userID
}

// Answer is the scored submission of one participant for one question.
type Answer struct {
	Answer       string    `json:"answer"`
	IsCorrect    bool      `json:"isCorrect"`
	ScoreAwarded int       `json:"scoreAwarded"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// Participant is a joined player. Answers is keyed by question index.
type Participant struct {
	ID        string         `json:"id"`
	GameCode  string         `json:"gameCode"`
	Pseudonym string         `json:"pseudonym"`
	Score     int            `json:"score"`
	Answers   map[int]Answer `json:"answers"`
	JoinedAt  time.Time      `json:"joinedAt"`
	Version   int64          `json:"version"`
}

// Validate checks a stored participant record.
func (p Participant) Validate() error {
	if p.ID == "" || p.GameCode == "" {
		return fmt.Errorf("%w: missing identity fields", ErrMalformedParticipant)
	}
	if p.Score < 0 {
		return fmt.Errorf("%w: negative score %d", ErrMalformedParticipant, p.Score)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate answers safely.
func (p Participant) Clone() Participant {
	out := p
	out.Answers = make(map[int]Answer, len(p.Answers))
	for k, v := range p.Answers {
		out.Answers[k] = v
	}
	return out
}

// Submission is the outcome of one scored answer.
type Submission struct {
	QuestionIndex int  `json:"questionIndex"`
	IsCorrect     bool `json:"isCorrect"`
	PointsAwarded int  `json:"pointsAwarded"`
	TotalScore    int  `json:"totalScore"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Pseudonym     string `json:"pseudonym"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// Leaderboard captures the ordered scoreboard for a game.
type Leaderboard struct {
	Code      string             `json:"code"`
	State     GameState          `json:"state"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// GameView is the public projection of a game.
type GameView struct {
	Game
	ParticipantCount int `json:"participantCount"`
}

// QuestionView is the current question as shown to participants, without
// the correct answer.
type QuestionView struct {
	Code              string       `json:"code"`
	Index             int          `json:"index"`
	Count             int          `json:"count"`
	Text              string       `json:"text"`
	Kind              QuestionKind `json:"type"`
	TimerSeconds      float64      `json:"timer"`
	Options           []string     `json:"options,omitempty"`
	QuestionStartedAt time.Time    `json:"questionStartedAt"`
}

// AnswerCount aggregates identical answers to a question.
type AnswerCount struct {
	Answer    string `json:"answer"`
	Count     int    `json:"count"`
	IsCorrect bool   `json:"isCorrect"`
}

// QuestionSummary is the host's view of how the room answered.
type QuestionSummary struct {
	Code          string        `json:"code"`
	Index         int           `json:"index"`
	CorrectAnswer string        `json:"correctAnswer"`
	Answered      int           `json:"answered"`
	Correct       int           `json:"correct"`
	Participants  int           `json:"participants"`
	Answers       []AnswerCount `json:"answers"`
}

// EventKind names the record type carried by an Event.
type EventKind string

const (
	EventGame        EventKind = "game"
	EventParticipant EventKind = "participant"
)

// Event is one committed change of a record in a game's subtree.
type Event struct {
	Kind        EventKind    `json:"kind"`
	Code        string       `json:"code"`
	Version     int64        `json:"version"`
	Game        *Game        `json:"game,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}

// RecordKey identifies the record an event belongs to.
func (e Event) RecordKey() string {
	if e.Kind == EventParticipant && e.Participant != nil {
		return string(EventParticipant) + ":" + e.Participant.ID
	}
	return string(e.Kind)
}

// GameEvent returns the change event for a committed game record.
func GameEvent(g Game) Event {
	game := g
	return Event{Kind: EventGame, Code: g.Code, Version: g.Version, Game: &game}
}

// ParticipantEvent returns the change event for a committed participant record.
func ParticipantEvent(p Participant) Event {
	participant := p.Clone()
	return Event{Kind: EventParticipant, Code: p.GameCode, Version: p.Version, Participant: &participant}
}

// LifecycleEvent is exported to external consumers when a game changes phase.
type LifecycleEvent struct {
	Type          string    `json:"type"`
	Code          string    `json:"code"`
	QuizID        string    `json:"quizId"`
	State         GameState `json:"state"`
	QuestionIndex int       `json:"questionIndex"`
	At            time.Time `json:"at"`
}

const (
	LifecycleGameCreated     = "game.created"
	LifecycleGameStarted     = "game.started"
	LifecycleQuestionStarted = "question.start"
	LifecycleQuestionResults = "question.results"
	LifecycleGameFinished    = "game.finished"
)
