// Package blob stores decoded image attachments on disk.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore writes attachment payloads under a single directory. File
// names are prefixed with a random id so colliding sender-supplied
// names never overwrite each other.
type FileStore struct {
	dir string
}

// New creates the store, making dir as needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// SaveImage writes data and returns its local path. No separate
// thumbnail is generated; the empty thumb path tells consumers to
// render from the full image.
func (s *FileStore) SaveImage(data []byte, filename string) (string, string, error) {
	name := fmt.Sprintf("%s-%s", uuid.NewString()[:8], sanitize(filename))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", "", err
	}
	return path, "", nil
}

// sanitize strips path separators and anything else that could escape
// the store directory.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "attachment"
	}
	return name
}
