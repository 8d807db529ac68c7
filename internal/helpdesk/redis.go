package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds retries of a WATCH transaction that lost a race.
const maxTxAttempts = 5

// RedisStore shares tickets and conversations between API and worker processes.
//
// Layout:
//
//	<prefix>ticket:<id>        JSON-encoded Ticket
//	<prefix>tickets            set of ticket ids
//	<prefix>conversation:<id>  list of JSON-encoded Messages, RPUSH order
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "helpdesk:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) ticketKey(id string) string       { return s.prefix + "ticket:" + id }
func (s *RedisStore) conversationKey(id string) string { return s.prefix + "conversation:" + id }
func (s *RedisStore) indexKey() string                 { return s.prefix + "tickets" }

func (s *RedisStore) Exists(ctx context.Context, ticketID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.ticketKey(ticketID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, ticketID string) (*Ticket, error) {
	raw, err := s.rdb.Get(ctx, s.ticketKey(ticketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", ticketID, err)
	}
	return &t, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Ticket, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if errors.Is(err, ErrTicketNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	sortTickets(out)
	return out, nil
}

func (s *RedisStore) Create(ctx context.Context, t Ticket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.ticketKey(t.ID), raw, 0)
		pipe.SAdd(ctx, s.indexKey(), t.ID)
		return nil
	})
	return err
}

// Update applies the patch under WATCH so concurrent updates do not clobber each other.
func (s *RedisStore) Update(ctx context.Context, ticketID string, patch TicketPatch) (*Ticket, error) {
	var updated *Ticket
	key := s.ticketKey(ticketID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		var t Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decode ticket %s: %w", ticketID, err)
		}
		patch.apply(&t)
		out, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		updated = &t
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) Delete(ctx context.Context, ticketID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.ticketKey(ticketID), s.conversationKey(ticketID))
		pipe.SRem(ctx, s.indexKey(), ticketID)
		return nil
	})
	return err
}

func (s *RedisStore) ListMessages(ctx context.Context, ticketID string) ([]Message, error) {
	raws, err := s.rdb.LRange(ctx, s.conversationKey(ticketID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode message of ticket %s: %w", ticketID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// AppendMessage checks the ticket and pushes under WATCH, so a concurrent
// Delete cannot leave an orphan conversation behind.
func (s *RedisStore) AppendMessage(ctx context.Context, ticketID string, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := s.ticketKey(ticketID)
	for i := 0; i < maxTxAttempts; i++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrTicketNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.RPush(ctx, s.conversationKey(ticketID), raw)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}
