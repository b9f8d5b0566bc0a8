// Package media stores uploaded message attachments outside of the chat
// documents and hands back a reference clients can fetch them from.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/teris-io/shortid"
)

// Store persists a blob and returns its media reference.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// NewKey builds a unique, path-safe object key for an upload, keeping
// the original file extension when there is one.
func NewKey(ownerId, filename string) (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate media key: %w", err)
	}

	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}

	return path.Join(sanitize(ownerId), id+ext), nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}
