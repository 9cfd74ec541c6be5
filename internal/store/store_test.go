package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "  My Portfolio ", "u1")
	require.NoError(t, err)
	assert.Equal(t, "my portfolio", rec.Name)
	assert.Equal(t, []string{"u1"}, rec.Users)
	assert.NotEmpty(t, rec.ID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Users, got.Users)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "   ", "u1")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Create(ctx, "site", "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Create(ctx, "Shop", "u1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "shop ", "u2")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestListByUser(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	a, err := s.Create(ctx, "alpha", "u1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "beta", "u2")
	require.NoError(t, err)
	c, err := s.Create(ctx, "gamma", "u1")
	require.NoError(t, err)

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)

	none, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAddUsers(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	rec, err := s.Create(ctx, "team site", "owner")
	require.NoError(t, err)

	got, err := s.AddUsers(ctx, rec.ID, "owner", []string{"u2", "u3", "u2", "owner"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "u2", "u3"}, got.Users)

	_, err = s.AddUsers(ctx, rec.ID, "stranger", []string{"u4"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.AddUsers(ctx, "missing", "owner", []string{"u4"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddUsers(ctx, rec.ID, "owner", nil)
	assert.ErrorIs(t, err, ErrInvalid)

	member, err := s.IsMember(ctx, rec.ID, "u3")
	require.NoError(t, err)
	assert.True(t, member)
	member, err = s.IsMember(ctx, rec.ID, "stranger")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestOpen_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "projects.db")
	s, err := Open(path)
	require.NoError(t, err)
	rec, err := s.Create(context.Background(), "persisted", "u1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}
