package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore はローカルディスクにアセットを保存するStore。
type FileSystemStore struct {
	root string
}

// NewFileSystemStore はrootディレクトリを基点とするFileSystemStoreを生成する。
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, strings.TrimSuffix(KeyPrefix, "/")), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	return &FileSystemStore{root: abs}, nil
}

func (s *FileSystemStore) path(key string) (string, error) {
	if !IsManagedKey(key) {
		return "", fmt.Errorf("invalid asset key: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Save は一時ファイルに書き込んでからリネームする。
func (s *FileSystemStore) Save(ctx context.Context, key string, body io.Reader, _ string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, body)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move asset into place: %w", err)
	}
	return nil
}

// Open はキーのファイルを開く。
func (s *FileSystemStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open asset: %w", err)
	}
	return f, nil
}

// Delete はキーのファイルを削除する。
func (s *FileSystemStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// List は接頭辞に一致するファイルを列挙する。
// 走査はimages/配下に限り、書き込み途中の一時ファイルは含めない。
func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	base := filepath.Join(s.root, filepath.FromSlash(KeyPrefix))
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return objects, nil
}

// ctxReader はコンテキストのキャンセルで読み取りを打ち切るio.Reader。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

var _ Store = (*FileSystemStore)(nil)
