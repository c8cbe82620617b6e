package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data    []byte
	modTime time.Time
}

// MemoryStore はプロセス内メモリにアセットを保持するStore。
// 開発環境とテストで使用する。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// Save はキーにデータを保存する。
func (s *MemoryStore) Save(ctx context.Context, key string, body io.Reader, _ string) error {
	if !IsManagedKey(key) {
		return fmt.Errorf("invalid asset key: %q", key)
	}
	data, err := io.ReadAll(readerWithContext(ctx, body))
	if err != nil {
		return fmt.Errorf("failed to read asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: data, modTime: s.now()}
	return nil
}

// Open はキーのデータを返す。
func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete はキーのデータを削除する。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// List は接頭辞に一致するアセットをキー順に列挙する。
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var objects []Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Has はキーが存在するかを返す。
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

var _ Store = (*MemoryStore)(nil)
