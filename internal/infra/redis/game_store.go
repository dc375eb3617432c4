package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
)

// GameStore keeps games in Redis with optimistic transactions.
// Layout:
//
//	game:{code}                      JSON game record
//	game:{code}:participant:{id}     JSON participant record
//	game:{code}:participants         ZSET of participant ids scored by join time
//	game:{code}:events               pub/sub channel of committed changes
//
// Every mutation WATCHes the keys it read and commits with MULTI/EXEC; the
// change event is PUBLISHed inside the same MULTI so the feed follows commit order.
type GameStore struct {
	client *redis.Client
	ttl    time.Duration
	buffer int
}

func NewGameStore(client *redis.Client, ttl time.Duration) *GameStore {
	return &GameStore{client: client, ttl: ttl, buffer: broadcast.DefaultBuffer}
}

func (s *GameStore) CreateGame(ctx context.Context, game domain.Game) (domain.Game, error) {
	game.Version = 1
	if err := game.Validate(); err != nil {
		return domain.Game{}, err
	}
	data, event, err := encodeGame(game)
	if err != nil {
		return domain.Game{}, err
	}

	key := gameKey(game.Code)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return errors.Wrap(err, "check game code")
		}
		if exists > 0 {
			return domain.ErrGameCodeTaken
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Publish(ctx, eventsChannel(game.Code), event)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return domain.Game{}, txError(err, "create game")
	}
	return game, nil
}

func (s *GameStore) GetGame(ctx context.Context, code string) (domain.Game, error) {
	return loadGame(ctx, s.client, code)
}

func (s *GameStore) UpdateGame(ctx context.Context, code string, mutate func(*domain.Game) error) (domain.Game, error) {
	key := gameKey(code)
	var updated domain.Game
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		game, err := loadGame(ctx, tx, code)
		if err != nil {
			return err
		}
		read := game.Version
		if err := mutate(&game); err != nil {
			return err
		}
		game.Version = read + 1
		if err := game.Validate(); err != nil {
			return err
		}
		data, event, err := encodeGame(game)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			pipe.Publish(ctx, eventsChannel(code), event)
			return nil
		})
		if err != nil {
			return err
		}
		updated = game
		return nil
	}, key)
	if err != nil {
		return domain.Game{}, txError(err, "update game")
	}
	return updated, nil
}

func (s *GameStore) AddParticipant(ctx context.Context, participant domain.Participant, guard func(domain.Game) error) (domain.Participant, error) {
	participant = participant.Clone()
	participant.Version = 1
	if err := participant.Validate(); err != nil {
		return domain.Participant{}, err
	}
	data, event, err := encodeParticipant(participant)
	if err != nil {
		return domain.Participant{}, err
	}

	code := participant.GameCode
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		game, err := loadGame(ctx, tx, code)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(game); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, participantKey(code, participant.ID), data, s.ttl)
			pipe.ZAdd(ctx, participantsKey(code), redis.Z{
				Score:  float64(participant.JoinedAt.UnixNano()),
				Member: participant.ID,
			})
			if s.ttl > 0 {
				pipe.Expire(ctx, participantsKey(code), s.ttl)
			}
			pipe.Publish(ctx, eventsChannel(code), event)
			return nil
		})
		return err
	}, gameKey(code))
	if err != nil {
		return domain.Participant{}, txError(err, "add participant")
	}
	return participant, nil
}

func (s *GameStore) GetParticipant(ctx context.Context, code, participantID string) (domain.Participant, error) {
	if _, err := loadGame(ctx, s.client, code); err != nil {
		return domain.Participant{}, err
	}
	return loadParticipant(ctx, s.client, code, participantID)
}

// ListParticipants returns participants in join order.
func (s *GameStore) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	if _, err := loadGame(ctx, s.client, code); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRange(ctx, participantsKey(code), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list participant ids")
	}
	if len(ids) == 0 {
		return []domain.Participant{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(code, id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load participants")
	}

	out := make([]domain.Participant, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// expired between ZRANGE and MGET
			continue
		}
		participant, err := decodeParticipant([]byte(str))
		if err != nil {
			return nil, errors.Wrapf(err, "participant %s", ids[i])
		}
		out = append(out, participant)
	}
	return out, nil
}

func (s *GameStore) UpdateParticipant(ctx context.Context, code, participantID string, mutate func(domain.Game, *domain.Participant) error) (domain.Participant, error) {
	pKey := participantKey(code, participantID)
	var updated domain.Participant
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		game, err := loadGame(ctx, tx, code)
		if err != nil {
			return err
		}
		participant, err := loadParticipant(ctx, tx, code, participantID)
		if err != nil {
			return err
		}
		read := participant.Version
		if err := mutate(game, &participant); err != nil {
			return err
		}
		participant.Version = read + 1
		if err := participant.Validate(); err != nil {
			return err
		}
		data, event, err := encodeParticipant(participant)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pKey, data, redis.KeepTTL)
			pipe.Publish(ctx, eventsChannel(code), event)
			return nil
		})
		if err != nil {
			return err
		}
		updated = participant
		return nil
	}, gameKey(code), pKey)
	if err != nil {
		return domain.Participant{}, txError(err, "update participant")
	}
	return updated, nil
}

// Subscribe streams committed changes of one game from the Redis channel. The
// subscription is confirmed before returning so no later commit is missed.
func (s *GameStore) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	if _, err := loadGame(ctx, s.client, code); err != nil {
		return nil, nil, err
	}

	pubsub := s.client.Subscribe(context.WithoutCancel(ctx), eventsChannel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, errors.Wrap(err, "subscribe game events")
	}
	messages := pubsub.Channel()

	out := make(chan domain.Event, s.buffer)
	go func() {
		defer close(out)
		seq := broadcast.NewSequencer()
		for msg := range messages {
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				glog.Warningf("game %s: dropping undecodable event: %v", code, err)
				continue
			}
			if !seq.Admit(event) {
				continue
			}
			select {
			case out <- event:
			default:
				glog.Warningf("game %s: subscriber queue full, disconnecting", code)
				_ = pubsub.Close()
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	stop := context.AfterFunc(ctx, cancel)
	return out, func() {
		stop()
		cancel()
	}, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func gameKey(code string) string {
	return "game:" + code
}

func participantKey(code, participantID string) string {
	return "game:" + code + ":participant:" + participantID
}

func participantsKey(code string) string {
	return "game:" + code + ":participants"
}

func eventsChannel(code string) string {
	return "game:" + code + ":events"
}

func loadGame(ctx context.Context, c getter, code string) (domain.Game, error) {
	raw, err := c.Get(ctx, gameKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, errors.Wrap(err, "load game")
	}
	return decodeGame(raw)
}

func loadParticipant(ctx context.Context, c getter, code, participantID string) (domain.Participant, error) {
	raw, err := c.Get(ctx, participantKey(code, participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, errors.Wrap(err, "load participant")
	}
	return decodeParticipant(raw)
}

func decodeGame(raw []byte) (domain.Game, error) {
	var game domain.Game
	if err := strictUnmarshal(raw, &game); err != nil {
		return domain.Game{}, errors.Wrapf(domain.ErrMalformedGame, "decode: %v", err)
	}
	if err := game.Validate(); err != nil {
		return domain.Game{}, err
	}
	return game, nil
}

func decodeParticipant(raw []byte) (domain.Participant, error) {
	var participant domain.Participant
	if err := strictUnmarshal(raw, &participant); err != nil {
		return domain.Participant{}, errors.Wrapf(domain.ErrMalformedParticipant, "decode: %v", err)
	}
	if err := participant.Validate(); err != nil {
		return domain.Participant{}, err
	}
	if participant.Answers == nil {
		participant.Answers = map[int]domain.Answer{}
	}
	return participant, nil
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func encodeGame(game domain.Game) ([]byte, []byte, error) {
	data, err := json.Marshal(game)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal game")
	}
	event, err := json.Marshal(domain.GameEvent(game))
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal game event")
	}
	return data, event, nil
}

func encodeParticipant(participant domain.Participant) ([]byte, []byte, error) {
	data, err := json.Marshal(participant)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal participant")
	}
	event, err := json.Marshal(domain.ParticipantEvent(participant))
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal participant event")
	}
	return data, event, nil
}

// txError maps a failed optimistic transaction to the domain conflict error and
// leaves domain errors untouched.
func txError(err error, op string) error {
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrTransactionConflict
	}
	if isDomainError(err) {
		return err
	}
	return errors.Wrap(err, op)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrForbidden,
		domain.ErrInvalidState,
		domain.ErrInvalidInput,
		domain.ErrTransactionConflict,
		domain.ErrGameCodeTaken,
		domain.ErrMalformedGame,
		domain.ErrMalformedParticipant,
		domain.ErrMalformedQuiz,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
