package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// File serializes flows across processes on one host with advisory file
// locks. The lock lives as long as the holder; ttl is ignored.
type File struct {
	dir   string
	local *Memory
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create lock directory", err)
	}
	return &File{dir: dir, local: NewMemory()}, nil
}

func (f *File) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:8])+".lock")
}

func (f *File) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	releaseLocal, err := f.local.TryLock(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	fl := flock.New(f.path(key))
	ok, err := fl.TryLock()
	if err != nil {
		_ = releaseLocal(ctx)
		return nil, clierr.Wrap(clierr.CodeInternal, "acquire flow lock", err)
	}
	if !ok {
		_ = releaseLocal(ctx)
		return nil, busy(key)
	}
	return func(ctx context.Context) error {
		defer func() { _ = releaseLocal(ctx) }()
		if err := fl.Unlock(); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "release flow lock", err)
		}
		return nil
	}, nil
}
