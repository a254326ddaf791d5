package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brokerdesk/portal/internal/config"
	"github.com/go-git/go-git/v6"
	"github.com/stretchr/testify/require"
)

const testKey = "portal/auth-tokens"

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Load(ctx, testKey)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Save(ctx, testKey, []byte(`{"accessToken":"a1"}`)))
	got, err := kv.Load(ctx, testKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"accessToken":"a1"}`, string(got))

	require.NoError(t, kv.Save(ctx, testKey, []byte(`{"accessToken":"a2"}`)))
	got, err = kv.Load(ctx, testKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"accessToken":"a2"}`, string(got))

	require.NoError(t, kv.Delete(ctx, testKey))
	_, err = kv.Load(ctx, testKey)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Delete(ctx, testKey), "delete of a missing key must succeed")
}

func TestFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	fs, err := NewFileStore(root)
	require.NoError(t, err)
	exerciseKV(t, fs)

	require.NoError(t, fs.Save(context.Background(), testKey, []byte(`{}`)))
	info, err := os.Stat(filepath.Join(root, "portal", "auth-tokens.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../outside", "/"} {
		err = fs.Save(context.Background(), key, []byte("x"))
		require.Error(t, err, "key %q", key)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), RedisStoreConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	exerciseKV(t, rs)

	require.NoError(t, rs.Save(context.Background(), testKey, []byte("v")))
	require.True(t, mr.Exists("portal:portal:auth-tokens"))
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisStoreConfig{})
	require.Error(t, err)
}

func TestGitStoreLocalRepository(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	gs := NewGitStore(dir, "", "", "")
	require.NoError(t, gs.EnsureRepository())
	exerciseKV(t, gs)

	ctx := context.Background()
	require.NoError(t, gs.Save(ctx, testKey, []byte(`{"v":1}`)))
	require.NoError(t, gs.Save(ctx, testKey, []byte(`{"v":2}`)))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	require.Equal(t, 0, commit.NumParents(), "history must be squashed to a single commit")
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pg := newPostgresStoreWithDB(db, PostgresStoreConfig{Schema: "app"})
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "app"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "app"."portal_state"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, pg.EnsureSchema(ctx))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT content FROM "app"."portal_state" WHERE id = $1`)).
		WithArgs(testKey).
		WillReturnRows(sqlmock.NewRows([]string{"content"}))
	_, err = pg.Load(ctx, testKey)
	require.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "app"."portal_state"`)).
		WithArgs(testKey, `{"accessToken":"a1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, pg.Save(ctx, testKey, []byte(`{"accessToken":"a1"}`)))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT content FROM "app"."portal_state" WHERE id = $1`)).
		WithArgs(testKey).
		WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow(`{"accessToken":"a1"}`))
	got, err := pg.Load(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, `{"accessToken":"a1"}`, string(got))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "app"."portal_state" WHERE id = $1`)).
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, pg.Delete(ctx, testKey))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "app"."portal_state"`)).
		WithArgs(testKey, "x").
		WillReturnError(errors.New("connection reset"))
	require.Error(t, pg.Save(ctx, testKey, []byte("x")))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), PostgresStoreConfig{DSN: "  "})
	require.Error(t, err)
}

func TestNewObjectStoreValidation(t *testing.T) {
	base := ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "portal", AccessKey: "ak", SecretKey: "sk"}
	cases := []struct {
		name   string
		mutate func(*ObjectStoreConfig)
	}{
		{name: "endpoint", mutate: func(c *ObjectStoreConfig) { c.Endpoint = "" }},
		{name: "bucket", mutate: func(c *ObjectStoreConfig) { c.Bucket = "" }},
		{name: "access key", mutate: func(c *ObjectStoreConfig) { c.AccessKey = "" }},
		{name: "secret key", mutate: func(c *ObjectStoreConfig) { c.SecretKey = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewObjectStore(cfg)
			require.Error(t, err)
		})
	}

	cfg := base
	cfg.Prefix = "/tenants/a/"
	obj, err := NewObjectStore(cfg)
	require.NoError(t, err)
	key, err := obj.objectKey(testKey)
	require.NoError(t, err)
	require.Equal(t, "tenants/a/portal/auth-tokens.json", key)
}

func TestOpenSelectsFileStoreByDefault(t *testing.T) {
	dir := t.TempDir()
	kv, err := Open(context.Background(), config.TokenStoreConfig{}, dir)
	require.NoError(t, err)
	fs, ok := kv.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", kv)
	require.Equal(t, filepath.Join(dir, "state"), fs.Root())

	_, err = Open(context.Background(), config.TokenStoreConfig{Type: "floppy"}, dir)
	require.Error(t, err)
}
