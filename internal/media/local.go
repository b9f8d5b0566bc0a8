package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore keeps attachments on disk next to the flat-file data and
// serves them back under urlPrefix.
type LocalStore struct {
	log       *zap.SugaredLogger
	dir       string
	urlPrefix string
}

func NewLocalStore(logger *zap.SugaredLogger, dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	return &LocalStore{
		log:       logger,
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, key, _ string, body io.Reader, size int64) (string, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	n, err := io.Copy(f, io.LimitReader(body, size+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	if n != size {
		return "", fmt.Errorf("write media: got %d bytes, expected %d", n, size)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}

	s.log.Debugw("stored media", "key", key, "size", size)
	return s.urlPrefix + "/" + filepath.ToSlash(key), nil
}

// Handler serves stored files. It is mounted under the same prefix Put
// uses for references.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(s.urlPrefix+"/", http.FileServer(http.Dir(s.dir)))
}

func (s *LocalStore) URLPrefix() string {
	return s.urlPrefix
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}
