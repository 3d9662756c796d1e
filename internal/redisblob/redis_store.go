// Package redisblob keeps blobs in Redis hashes and implements the
// conditional write with WATCH/MULTI: a write whose expected version is no
// longer current, or that races another writer, is rejected as a conflict.
package redisblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"navsphere/api/internal/blob"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const defaultPrefix = "navsphere:blob:"

type Store struct {
	client *redis.Client
	prefix string
	logger log.FieldLogger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, logger log.FieldLogger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, logger log.FieldLogger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		client: client,
		prefix: defaultPrefix,
		logger: logger.WithField("store", "redis"),
	}
}

func (s *Store) key(path string) string {
	return s.prefix + path
}

func (s *Store) Read(ctx context.Context, path string) (blob.Blob, error) {
	values, err := s.client.HMGet(ctx, s.key(path), "content", "version").Result()
	if err != nil {
		return blob.Blob{}, blob.Transportf(err, "read %s", path)
	}
	content, ok := values[0].(string)
	if !ok {
		return blob.Blob{}, fmt.Errorf("%w: %s", blob.ErrNotFound, path)
	}
	version, _ := values[1].(string)
	return blob.Blob{Content: []byte(content), Version: version}, nil
}

func (s *Store) Write(ctx context.Context, req blob.WriteRequest) (string, error) {
	key := s.key(req.Path)
	next := nextVersion(req.ExpectedVersion, req.Content)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return blob.Transportf(err, "read version of %s", req.Path)
		}
		if current != req.ExpectedVersion {
			return &blob.ConflictError{Path: req.Path, Expected: req.ExpectedVersion, Current: current}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "content", req.Content, "version", next)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		// Another client modified the key between WATCH and EXEC.
		return "", &blob.ConflictError{Path: req.Path, Expected: req.ExpectedVersion}
	case errors.Is(err, blob.ErrVersionConflict), errors.Is(err, blob.ErrTransport):
		return "", err
	default:
		return "", blob.Transportf(err, "write %s", req.Path)
	}

	s.logger.WithFields(log.Fields{"path": req.Path, "version": next}).Debug("redisblob: written")
	return next, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// nextVersion chains the previous version into the hash so rewriting
// identical content still yields a new token.
func nextVersion(previous string, content []byte) string {
	sum := sha256.New()
	sum.Write([]byte(previous))
	sum.Write([]byte{0})
	sum.Write(content)
	return hex.EncodeToString(sum.Sum(nil))[:40]
}
