package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/resource-sync/resource-sync/internal/atomicfile"
)

// NewStore 以 path 作为唯一备份文件构建单槽缓存，整个进程复用一份实例。
// 文件缺失或无法识别时以空槽启动，不会返回错误。
func NewStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("cache file path required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		path:  abs,
		key:   loadKey(abs),
		write: atomicfile.Write,
	}, nil
}

// fileStore 以一把互斥锁串行化所有操作：槽位只有一个，没有按 key 细分锁的必要。
type fileStore struct {
	path  string
	write func(ctx context.Context, path string, body io.Reader, opts atomicfile.Options) (int64, error)

	mu  sync.Mutex
	key uuid.UUID
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(Key(key))
}

func (s *fileStore) Put(ctx context.Context, key string, entry []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, Key(key), entry)
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(Key(key))
}

func (s *fileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := Key(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if !ok {
		current = nil
	}

	next := fn(current)
	if next == nil {
		return s.removeLocked(id)
	}
	return s.putLocked(ctx, id, next)
}

func (s *fileStore) getLocked(id uuid.UUID) ([]byte, bool, error) {
	if s.key == uuid.Nil || s.key != id {
		return nil, false, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.key = uuid.Nil
			return nil, false, nil
		}
		return nil, false, err
	}

	stored, payload, err := decodeFrame(data)
	if err != nil {
		// 损坏或旧版本格式：降级为空槽。
		s.key = uuid.Nil
		return nil, false, nil
	}
	if stored != id {
		s.key = stored
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *fileStore) putLocked(ctx context.Context, id uuid.UUID, entry []byte) error {
	frame := io.MultiReader(bytes.NewReader(encodeHeader(id, entry)), bytes.NewReader(entry))
	_, err := s.write(ctx, s.path, frame, atomicfile.Options{
		Perm:    0o600,
		Pattern: ".cache-*",
	})
	if err != nil {
		// 写入失败时旧文件与 s.key 都保持不变。
		return fmt.Errorf("write cache file: %w", err)
	}
	s.key = id
	return nil
}

func (s *fileStore) removeLocked(id uuid.UUID) error {
	if s.key == uuid.Nil || s.key != id {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.key = uuid.Nil
	return nil
}

// loadKey 只读取帧头以恢复槽位 key，正文校验推迟到 Get。
func loadKey(path string) uuid.UUID {
	f, err := os.Open(path)
	if err != nil {
		return uuid.Nil
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return uuid.Nil
	}
	id, _, _, err := decodeHeader(header)
	if err != nil {
		return uuid.Nil
	}
	return id
}
