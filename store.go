package msgbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores each aggregate's Message stream in a Redis list.
// Streams persisted together must live on the same Redis node, which
// RedisConfig.SlotParts can guarantee on a cluster
type RedisRepository struct {
	client            *redis.Client
	serializer        *Serializer
	appendMessagesLua *redis.Script
	prefix            string
	slotParts         int
}

const messagesSuffix = ":messages"

// ErrUnexpectedLuaResult indicates a Lua script returned an unexpected shape
var ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")

// NewRedisRepository connects to Redis and verifies the connection
func NewRedisRepository(
	ctx context.Context, cfg RedisConfig, s *Serializer,
) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultRedisConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisRepository{
		client:            client,
		serializer:        s,
		appendMessagesLua: redis.NewScript(luaAppendMessages),
		prefix:            cfg.Prefix,
		slotParts:         cfg.SlotParts,
	}, nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Persist appends the Messages to their streams in a single script call.
// Either every stream is extended or nothing is written
func (r *RedisRepository) Persist(ctx context.Context, msgs ...*Message) error {
	batches, err := groupByAggregate(msgs)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	keys := make([]string, 0, len(batches))
	args := make([]any, 0, len(msgs)+2*len(batches))
	for _, b := range batches {
		keys = append(keys, r.buildKey(b.id))
		args = append(args, b.first, len(b.msgs))
		for _, msg := range b.msgs {
			data, err := r.serializer.Serialize(msg)
			if err != nil {
				return err
			}
			args = append(args, string(data))
		}
	}

	result, err := r.appendMessagesLua.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return err
	}

	res, ok := result.([]any)
	if !ok || len(res) != 3 {
		return ErrUnexpectedLuaResult
	}
	if success, _ := res[0].(int64); success == 1 {
		return nil
	}

	idx, _ := res[1].(int64)
	current, _ := res[2].(int64)
	if idx < 1 || int(idx) > len(batches) {
		return ErrUnexpectedLuaResult
	}
	return batches[idx-1].checkContinues(current)
}

func (r *RedisRepository) RetrieveAll(
	ctx context.Context, id AggregateID,
) ([]*Message, error) {
	return r.RetrieveAllAfterVersion(ctx, id, 0)
}

// RetrieveAllAfterVersion relies on version v being stored at list index
// v-1
func (r *RedisRepository) RetrieveAllAfterVersion(
	ctx context.Context, id AggregateID, version int64,
) ([]*Message, error) {
	items, err := r.client.LRange(
		ctx, r.buildKey(id), max(version, 0), -1,
	).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]*Message, 0, len(items))
	for _, item := range items {
		msg, err := r.serializer.Unserialize([]byte(item))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (r *RedisRepository) buildKey(id AggregateID) string {
	return fmt.Sprintf("%s:%s%s",
		r.prefix, id.hashSlotted(r.slotParts), messagesSuffix,
	)
}
