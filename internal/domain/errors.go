package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify with errors.Is against these.
var (
	// ErrNotFound means a referenced game, quiz or participant does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller failed an ownership or host check.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState means the game's state does not permit the operation.
	ErrInvalidState = errors.New("invalid game state")
	// ErrTransactionConflict means a concurrent commit invalidated a store transaction.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrInvalidInput means the request itself is unusable.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	ErrGameNotFound        = fmt.Errorf("game %w", ErrNotFound)
	ErrQuizNotFound        = fmt.Errorf("quiz %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("question %w", ErrNotFound)

	// ErrNotHost keeps the generic kind message so callers cannot tell which check failed.
	ErrNotHost = fmt.Errorf("%w", ErrForbidden)

	ErrGameAlreadyStarted = fmt.Errorf("%w: game has already started or ended", ErrInvalidState)
	ErrGameNotInProgress  = fmt.Errorf("%w: game is not accepting answers", ErrInvalidState)
	ErrResultsNotShown    = fmt.Errorf("%w: results for the current question are not shown yet", ErrInvalidState)
	ErrGameFinished       = fmt.Errorf("%w: game has finished", ErrInvalidState)
	ErrGameNotStarted     = fmt.Errorf("%w: game has not started", ErrInvalidState)
	ErrResultsShown       = fmt.Errorf("%w: results are already shown", ErrInvalidState)
	ErrNoActiveGame       = fmt.Errorf("%w: no active game for this code", ErrInvalidState)
	ErrAlreadyAnswered    = fmt.Errorf("%w: question already answered", ErrInvalidState)

	ErrGameCodeTaken      = errors.New("game code already in use")
	ErrGameCodesExhausted = errors.New("could not allocate a free game code")

	ErrMalformedQuiz        = errors.New("malformed quiz record")
	ErrMalformedGame        = errors.New("malformed game record")
	ErrMalformedParticipant = errors.New("malformed participant record")

	ErrEmptyPseudonym = fmt.Errorf("%w: pseudonym is required", ErrInvalidInput)
	ErrLongPseudonym  = fmt.Errorf("%w: pseudonym is too long", ErrInvalidInput)
)
