package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"live-quiz-service/internal/domain"
)

// quizSchema is the shape quiz documents must have before the game engine
// accepts them.
const quizSchema = `{
  "type": "object",
  "required": ["title", "questions"],
  "properties": {
    "title": {"type": "string"},
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["text", "type", "timer", "answer"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "type": {"enum": ["multiple-choice", "true-false", "text-entry"]},
          "timer": {"type": "number"},
          "options": {"type": "array", "items": {"type": "string"}},
          "answer": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var quizSchemaLoader = gojsonschema.NewStringLoader(quizSchema)

// QuizLoader loads quiz JSONB documents from Postgres.
type QuizLoader struct {
	pool   *pgxpool.Pool
	schema *gojsonschema.Schema
}

func NewQuizLoader(pool *pgxpool.Pool) (*QuizLoader, error) {
	schema, err := gojsonschema.NewSchema(quizSchemaLoader)
	if err != nil {
		return nil, errors.Wrap(err, "compile quiz schema")
	}
	return &QuizLoader{pool: pool, schema: schema}, nil
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var (
		creatorID string
		raw       []byte
	)
	err := l.pool.QueryRow(ctx, `SELECT creator_id, data FROM quizzes WHERE id=$1`, quizID).Scan(&creatorID, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, errors.Wrap(err, "load quiz")
	}
	quiz, err := l.decode(raw)
	if err != nil {
		return domain.Quiz{}, errors.Wrapf(err, "quiz %s", quizID)
	}
	quiz.ID = quizID
	quiz.CreatorID = creatorID
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (l *QuizLoader) decode(raw []byte) (domain.Quiz, error) {
	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return domain.Quiz{}, errors.Wrapf(domain.ErrMalformedQuiz, "validate: %v", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return domain.Quiz{}, errors.Wrap(domain.ErrMalformedQuiz, strings.Join(problems, "; "))
	}

	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, errors.Wrapf(domain.ErrMalformedQuiz, "unmarshal: %v", err)
	}
	return quiz, nil
}
