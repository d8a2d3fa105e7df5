package msgbox_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/msgbox"
)

func setupRedisRepository(
	t *testing.T,
) (*miniredis.Miniredis, *msgbox.RedisRepository) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	cfg := msgbox.DefaultRedisConfig()
	cfg.Addr = server.Addr()
	cfg.Prefix = "test"

	s := newTestSerializer()
	repo, err := msgbox.NewRedisRepository(context.Background(), cfg, s)
	require.NoError(t, err)
	return server, repo
}

func TestRedisRepository(t *testing.T) {
	server, repo := setupRedisRepository(t)
	defer server.Close()
	defer func() { _ = repo.Close() }()

	testRepository(t, repo)
	testRejectsUntypedMessages(t, repo)
}

func TestRedisRepositoryKeys(t *testing.T) {
	server, repo := setupRedisRepository(t)
	defer server.Close()
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	id := msgbox.NewAggregateID("order", "1")
	require.NoError(t, repo.Persist(ctx, orderMessage(id, 1)))

	items, err := server.List("test:order:1:messages")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, items[0], `"order.placed"`)
}

func TestRedisRepositoryCorruptEntry(t *testing.T) {
	server, repo := setupRedisRepository(t)
	defer server.Close()
	defer func() { _ = repo.Close() }()

	_, err := server.Push("test:order:9:messages", "not json")
	require.NoError(t, err)

	_, err = repo.RetrieveAll(
		context.Background(), msgbox.NewAggregateID("order", "9"),
	)
	assert.Error(t, err)
}

func TestRedisRepositoryLargeBatch(t *testing.T) {
	server, repo := setupRedisRepository(t)
	defer server.Close()
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	id := msgbox.NewAggregateID("order", "big")
	msgs := make([]*msgbox.Message, 300)
	for i := range msgs {
		msgs[i] = orderMessage(id, int64(i+1))
	}
	require.NoError(t, repo.Persist(ctx, msgs...))

	res, err := repo.RetrieveAllAfterVersion(ctx, id, 250)
	require.NoError(t, err)
	assert.Len(t, res, 50)
	assert.Equal(t, int64(251), res[0].AggregateVersion())
}

func TestNewRedisRepositoryUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	addr := server.Addr()
	server.Close()

	cfg := msgbox.DefaultRedisConfig()
	cfg.Addr = addr
	_, err = msgbox.NewRedisRepository(
		context.Background(), cfg, msgbox.NewSerializer(),
	)
	assert.Error(t, err)
}

func TestRedisRepositorySlottedKeys(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cfg := msgbox.DefaultRedisConfig()
	cfg.Addr = server.Addr()
	cfg.Prefix = "test"
	cfg.SlotParts = 1

	repo, err := msgbox.NewRedisRepository(
		context.Background(), cfg, newTestSerializer(),
	)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	order := msgbox.NewAggregateID("order", "1")
	single := msgbox.NewAggregateID("order")
	require.NoError(t, repo.Persist(ctx,
		orderMessage(order, 1),
		orderMessage(single, 1),
	))

	items, err := server.List("test:{order}:1:messages")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = server.List("test:{order}:messages")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	res, err := repo.RetrieveAll(ctx, order)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}
