package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	timestampLayout = "20060102150405"
	filePerm        = 0o644
	dirPerm         = 0o755
)

// FileStore is a [Store] that writes one JSON file per artifact.
//
// Files are named <mode>_<YYYYMMDDHHMMSS>[_<run handle>].json inside the
// configured directory. If that name is taken, a short random suffix is
// appended so an earlier artifact is never overwritten.
type FileStore struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewFileStore creates a [FileStore] writing into dir on fs.
// An empty dir means the current directory.
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{
		fs:  fs,
		dir: dir,
		now: time.Now,
	}
}

// NewOSFileStore creates a [FileStore] on the operating system filesystem.
func NewOSFileStore(dir string) *FileStore {
	return NewFileStore(afero.NewOsFs(), dir)
}

// Dir returns the directory artifacts are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes a as an indented JSON [Document] and returns the file path.
func (s *FileStore) Save(a Artifact) (string, error) {
	if a.Mode == "" {
		return "", errors.New("artifact mode cannot be empty")
	}

	data, err := encodeDocument(Document{
		Request:  a.Request,
		Response: responseJSON(a.Response),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	path, err := s.freePath(FileName(a.Mode, a.RunHandle, createdAt))
	if err != nil {
		return "", err
	}

	if err := afero.WriteFile(s.fs, path, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// freePath returns a path for name that does not exist yet.
func (s *FileStore) freePath(name string) (string, error) {
	path := filepath.Join(s.dir, name)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", fmt.Errorf("failed to check artifact path: %w", err)
	}
	if !exists {
		return path, nil
	}

	base := strings.TrimSuffix(name, ".json")
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return filepath.Join(s.dir, base+"-"+suffix+".json"), nil
}

// FileName builds the artifact file name for mode, handle and t.
//
// Example: FileName("async", "7400", t) → "async_20241018101935_7400.json".
func FileName(mode, handle string, t time.Time) string {
	name := Sanitize(mode) + "_" + t.Format(timestampLayout)
	if handle != "" {
		name += "_" + Sanitize(handle)
	}
	return name + ".json"
}

// Sanitize keeps ASCII letters, digits, '_' and '-' and replaces every other
// rune with '_'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// responseJSON returns raw when it is valid JSON, otherwise raw as a JSON string.
func responseJSON(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// encodeDocument indents with two spaces and leaves non-ASCII and HTML
// characters unescaped.
func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
