package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/haven/internal/pagination"
	"github.com/mbd888/haven/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, id := range []string{"j-old", "j-mid", "j-new"} {
		require.NoError(t, store.Create(ctx, &Entry{
			ID: id, UserID: "pg-user", CreatedAt: now.Add(time.Duration(i-2) * 24 * time.Hour),
			Ciphertext: "ct", IV: "iv", Tag: "tag",
		}))
	}

	latest, err := store.ListByUser(ctx, "pg-user", nil, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "j-new", latest[0].ID)

	older, err := store.ListByUser(ctx, "pg-user", &pagination.Cursor{CreatedAt: latest[1].CreatedAt, ID: latest[1].ID}, 2)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "j-old", older[0].ID)

	since, err := store.ListSince(ctx, "pg-user", now.Add(-36*time.Hour))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "j-mid", since[0].ID)
	assert.Equal(t, "tag", since[0].Tag)
}
