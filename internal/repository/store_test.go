package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmagent/internal/core"
	"dmagent/pkg/schema"
)

func sampleSession(id string) *core.SessionState {
	s := core.NewSessionState()
	s.ID = id
	s.AddMessage(schema.RoleUser, "", "I open the door")
	s.AddMessage(schema.RoleAssistant, "dungeon_master", "The door creaks open.")
	s.RoutingTarget = schema.TargetTerminal
	s.DomainState["narrative"] = map[string]any{
		"turns":      1,
		"last_scene": "The door creaks open.",
	}
	return s
}

// runSessionStoreContract checks the behaviour every SessionStore shares.
func runSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(ctx, "SES-missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		in := sampleSession("SES-one")
		require.NoError(t, store.Save(ctx, in))

		out, err := store.Load(ctx, "SES-one")
		require.NoError(t, err)

		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.Messages, out.Messages)
		assert.Equal(t, schema.TargetTerminal, out.RoutingTarget)
		assert.False(t, out.UpdatedAt.IsZero())
		require.NoError(t, out.Validate())

		blob, ok := out.DomainState["narrative"].(map[string]any)
		require.True(t, ok, "domain blob should load as a map, got %T", out.DomainState["narrative"])
		assert.Equal(t, "The door creaks open.", blob["last_scene"])
	})

	t.Run("loaded state is independent", func(t *testing.T) {
		out, err := store.Load(ctx, "SES-one")
		require.NoError(t, err)
		out.AddMessage(schema.RoleUser, "", "mutated")

		again, err := store.Load(ctx, "SES-one")
		require.NoError(t, err)
		assert.Len(t, again.Messages, 2)
	})

	t.Run("overwrite", func(t *testing.T) {
		s := sampleSession("SES-one")
		s.AddMessage(schema.RoleUser, "", "again")
		require.NoError(t, store.Save(ctx, s))

		out, err := store.Load(ctx, "SES-one")
		require.NoError(t, err)
		assert.Len(t, out.Messages, 3)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sampleSession("SES-two")))

		infos, err := store.List(ctx)
		require.NoError(t, err)

		ids := make([]string, len(infos))
		for i, info := range infos {
			ids[i] = info.ID
		}
		assert.ElementsMatch(t, []string{"SES-one", "SES-two"}, ids)
	})

	t.Run("rejects invalid state", func(t *testing.T) {
		err := store.Save(ctx, &core.SessionState{ID: "SES-bad"})
		var missing *core.MissingStateKeyError
		assert.True(t, errors.As(err, &missing))

		s := sampleSession("../escape")
		var verr *core.ValidationError
		assert.True(t, errors.As(store.Save(ctx, s), &verr))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "SES-two"))
		_, err := store.Load(ctx, "SES-two")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "SES-two"), ErrSessionNotFound)
	})
}

func TestMemorySessionStore_Contract(t *testing.T) {
	runSessionStoreContract(t, NewMemorySessionStore())
}

func TestFileSessionStore_Contract(t *testing.T) {
	runSessionStoreContract(t, NewFileSessionStore(t.TempDir()))
}

func TestRedisSessionStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr())
	defer client.Close()

	runSessionStoreContract(t, NewRedisSessionStore(client, WithPrefix("test")))
}

func TestRedisSessionStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr())
	defer client.Close()

	store := NewRedisSessionStore(client, WithTTL(time.Hour))
	require.NoError(t, store.Save(ctx, sampleSession("SES-ttl")))

	assert.Equal(t, time.Hour, mr.TTL("dmagent:session:SES-ttl"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, "SES-ttl")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"SES-abc_123", true},
		{"", false},
		{"../etc/passwd", false},
		{"has space", false},
		{"a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFileSessionStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSessionStore(dir)
	require.NoError(t, writeFileAtomic(store.path("SES-bad"), []byte("messages: [unclosed"), 0o644))

	_, err := store.Load(context.Background(), "SES-bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestFileSessionStore_LoadNormalizesTarget(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSessionStore(dir)

	require.NoError(t, writeFileAtomic(store.path("SES-case"), []byte("id: SES-case\nrouting_target: Dice\n"), 0o644))
	out, err := store.Load(context.Background(), "SES-case")
	require.NoError(t, err)
	assert.Equal(t, schema.TargetDice, out.RoutingTarget)

	require.NoError(t, writeFileAtomic(store.path("SES-tavern"), []byte("id: SES-tavern\nrouting_target: tavern\n"), 0o644))
	_, err = store.Load(context.Background(), "SES-tavern")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown routing target")
}

func TestRedisSessionStore_LoadRejectsUnknownTarget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr())
	defer client.Close()

	require.NoError(t, mr.Set("dmagent:session:SES-tavern", `{"id":"SES-tavern","routing_target":"tavern"}`))
	_, err := NewRedisSessionStore(client).Load(context.Background(), "SES-tavern")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestFileSessionStore_ListMissingDir(t *testing.T) {
	store := NewFileSessionStore(t.TempDir() + "/nope")
	infos, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFileSessionStore_Lock(t *testing.T) {
	store := NewFileSessionStore(t.TempDir())

	lock, err := store.Lock("SES-locked", "cli")
	require.NoError(t, err)

	_, err = store.Lock("SES-locked", "http")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "cli", locked.Info.Owner)

	require.NoError(t, lock.Release())

	again, err := store.Lock("SES-locked", "http")
	require.NoError(t, err)
	require.NoError(t, again.Release())

	_, err = store.Lock("../x", "cli")
	assert.Error(t, err)
}
