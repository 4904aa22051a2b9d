package square

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The square needs a real PostgreSQL instance. Point SQUARE_TEST_DSN at a
// throwaway database to run these.
func testService(t *testing.T) *Service {
	t.Helper()

	dsn := os.Getenv("SQUARE_TEST_DSN")
	if dsn == "" {
		t.Skip("SQUARE_TEST_DSN not set, skipping square integration test")
	}

	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{"square_share_likes", "square_shares", "square_repos", "square_sessions", "square_users"} {
			s.db.ExecContext(ctx, "DELETE FROM "+table)
		}
		s.Close()
	})
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = s.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = s.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := s.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)

	got, err := s.UserForToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, s.Logout(ctx, token))
	_, err = s.UserForToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestPublishListAndCounters(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	alice, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := s.Register(ctx, "bob", "pw")
	require.NoError(t, err)

	share, err := s.Publish(ctx, alice.ID, "Forces", "github/alice/physics/ch1", "https://github.com/alice/physics")
	require.NoError(t, err)
	assert.Equal(t, 0, share.Likes)

	// Republishing the same course updates in place.
	again, err := s.Publish(ctx, alice.ID, "Forces v2", "github/alice/physics/ch1", "https://github.com/alice/physics")
	require.NoError(t, err)
	assert.Equal(t, share.ID, again.ID)

	views, err := s.RegisterView(ctx, share.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, views)

	likes, err := s.Like(ctx, share.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, likes)

	// A second like from the same user is accepted but does not count twice.
	likes, err = s.Like(ctx, share.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, likes)

	shares, err := s.List(ctx, 20, 0)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "Forces v2", shares[0].Title)
	assert.Equal(t, "alice", shares[0].Author)
	assert.Equal(t, 1, shares[0].Likes)
	assert.Equal(t, 1, shares[0].Views)
}

func TestUnpublishOwnership(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	alice, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := s.Register(ctx, "bob", "pw")
	require.NoError(t, err)

	share, err := s.Publish(ctx, alice.ID, "Forces", "github/alice/physics/ch1", "https://github.com/alice/physics")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Unpublish(ctx, share.ID, bob.ID), ErrNotShareOwner)
	require.NoError(t, s.Unpublish(ctx, share.ID, alice.ID))
	assert.ErrorIs(t, s.Unpublish(ctx, share.ID, alice.ID), ErrShareNotFound)
}

func TestRepoBindings(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	alice, err := s.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, s.BindRepo(ctx, alice.ID, "github",
		"https://github.com/alice/physics", "https://raw.githubusercontent.com/alice/physics/main/"))
	// Rebinding updates the raw URL.
	require.NoError(t, s.BindRepo(ctx, alice.ID, "github",
		"https://github.com/alice/physics", "https://raw.githubusercontent.com/alice/physics/dev/"))

	repos, err := s.ReposFor(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "https://raw.githubusercontent.com/alice/physics/dev/", repos[0].RawURL)
}
