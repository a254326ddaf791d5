// Package store provides the durable key-value backends that hold client
// state such as the token set and the pending session flash message.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/brokerdesk/portal/internal/config"
	"github.com/brokerdesk/portal/internal/util"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Load when no value is stored under the key.
var ErrNotFound = errors.New("store: key not found")

// KV is a minimal durable key-value store.
// Delete of a missing key is not an error.
type KV interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.Type. stateDir is the client's
// local state directory; file and git backends keep their data beneath it.
func Open(ctx context.Context, cfg config.TokenStoreConfig, stateDir string) (KV, error) {
	resolved, err := util.ResolveStateDir(stateDir)
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		resolved, _ = util.ResolveStateDir(config.DefaultStateDir)
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	log.WithField("store", kind).Debug("opening token store")

	switch kind {
	case "", "file":
		return NewFileStore(filepath.Join(resolved, "state"))
	case "postgres":
		pg, errPG := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:    cfg.DSN,
			Schema: cfg.Schema,
			Table:  cfg.Table,
		})
		if errPG != nil {
			return nil, errPG
		}
		if errSchema := pg.EnsureSchema(ctx); errSchema != nil {
			_ = pg.Close()
			return nil, errSchema
		}
		return pg, nil
	case "object":
		obj, errObj := NewObjectStore(ObjectStoreConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		})
		if errObj != nil {
			return nil, errObj
		}
		if errBucket := obj.EnsureBucket(ctx); errBucket != nil {
			return nil, errBucket
		}
		return obj, nil
	case "git":
		gs := NewGitStore(filepath.Join(resolved, "gitstore"), cfg.GitURL, cfg.GitUsername, cfg.GitPassword)
		if errRepo := gs.EnsureRepository(); errRepo != nil {
			return nil, errRepo
		}
		return gs, nil
	case "redis":
		return NewRedisStore(ctx, RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("store: unknown type %q", cfg.Type)
	}
}

// cleanKey validates a slash-separated key and returns its canonical form.
func cleanKey(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("store: key is empty")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("store: invalid key %q", key)
	}
	return cleaned, nil
}
