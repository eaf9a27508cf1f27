// Package module manages compiled module assets: a generated Go stub plus a
// YAML sidecar that carries the stub's opaque identifier across renames.
package module

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"geninst/internal/log"
)

const (
	StubExt = ".go"
	MetaExt = ".go.meta"
)

var (
	ErrNoModule = errors.New("module: stub not found")
	ErrNoMeta   = errors.New("module: sidecar not found")
)

// Meta is the sidecar content.
type Meta struct {
	GUID      string    `yaml:"guid"`
	TypeName  string    `yaml:"type_name"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Handle locates one module asset on disk.
type Handle struct {
	GUID     string
	Stem     string
	Path     string
	MetaPath string
}

// Store reads and writes module assets under a single directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir is the directory holding the assets.
func (s *Store) Dir() string { return s.dir }

// StubPath is where the stub for stem lives.
func (s *Store) StubPath(stem string) string {
	return filepath.Join(s.dir, stem+StubExt)
}

func (s *Store) metaPath(stem string) string {
	return filepath.Join(s.dir, stem+MetaExt)
}

// Exists reports whether the stub for stem is on disk.
func (s *Store) Exists(stem string) bool {
	_, err := os.Stat(s.StubPath(stem))
	return err == nil
}

// ReadStub returns the stub bytes for stem.
func (s *Store) ReadStub(stem string) ([]byte, error) {
	data, err := os.ReadFile(s.StubPath(stem))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoModule, stem)
	}
	return data, err
}

// CompileConcreteModule writes the stub for stem and a sidecar with a fresh GUID.
func (s *Store) CompileConcreteModule(ctx context.Context, stem string, source []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if err := WriteAtomic(s.StubPath(stem), source); err != nil {
		return Handle{}, fmt.Errorf("write stub %s: %w", stem, err)
	}
	h, err := s.writeMeta(stem, uuid.NewString())
	if err != nil {
		return Handle{}, err
	}
	log.Debug(log.CatGenerate, "compiled module", "stem", stem, "guid", h.GUID)
	return h, nil
}

// EnsureMeta returns the handle for an existing stub, writing a sidecar with
// a fresh GUID if none exists yet.
func (s *Store) EnsureMeta(stem string) (Handle, error) {
	h, err := s.Lookup(stem)
	if errors.Is(err, ErrNoMeta) {
		return s.writeMeta(stem, uuid.NewString())
	}
	return h, err
}

// Lookup returns the handle for stem. It fails with ErrNoModule when the stub
// is missing and ErrNoMeta when only the sidecar is.
func (s *Store) Lookup(stem string) (Handle, error) {
	if !s.Exists(stem) {
		return Handle{}, fmt.Errorf("%w: %s", ErrNoModule, stem)
	}
	meta, err := readMeta(s.metaPath(stem))
	if err != nil {
		return Handle{}, err
	}
	return s.handle(stem, meta.GUID), nil
}

// LookupByID finds the module whose sidecar carries guid.
func (s *Store) LookupByID(guid string) (Handle, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+MetaExt))
	if err != nil {
		return Handle{}, err
	}
	for _, p := range matches {
		meta, err := readMeta(p)
		if err != nil {
			log.Warn(log.CatGenerate, "unreadable sidecar", "path", p, "error", err)
			continue
		}
		if meta.GUID == guid {
			return s.handle(strings.TrimSuffix(filepath.Base(p), MetaExt), guid), nil
		}
	}
	return Handle{}, fmt.Errorf("%w: guid %s", ErrNoMeta, guid)
}

// ReplaceModule moves the module identified by guid to newStem. regenerate
// writes the new stub at the given path, the new sidecar keeps guid, and only
// then are the old stub and sidecar removed. On failure the old pair is left
// in place and any partial new files are removed.
func (s *Store) ReplaceModule(ctx context.Context, guid, newStem string, regenerate func(path string) error) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	old, err := s.LookupByID(guid)
	if err != nil {
		return Handle{}, err
	}
	moved := old.Stem != newStem
	newPath := s.StubPath(newStem)
	discard := func() {
		if !moved {
			return
		}
		if err := s.Delete(newPath); err != nil {
			log.ErrorErr(log.CatGenerate, "discard partial module failed", err, "stem", newStem)
		}
	}

	if err := regenerate(newPath); err != nil {
		discard()
		return Handle{}, fmt.Errorf("regenerate %s: %w", newStem, err)
	}
	h, err := s.writeMeta(newStem, guid)
	if err != nil {
		discard()
		return Handle{}, err
	}
	if moved {
		if err := s.Delete(old.Path); err != nil {
			discard()
			return Handle{}, err
		}
	}
	log.Info(log.CatGenerate, "replaced module", "from", old.Stem, "to", newStem, "guid", guid)
	return h, nil
}

// Delete removes a stub and its sidecar. Missing files are not an error.
func (s *Store) Delete(stubPath string) error {
	for _, p := range []string{stubPath, strings.TrimSuffix(stubPath, StubExt) + MetaExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

// Stems lists the stems of every stub that has a sidecar.
func (s *Store) Stems() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+MetaExt))
	if err != nil {
		return nil, err
	}
	stems := make([]string, 0, len(matches))
	for _, p := range matches {
		stems = append(stems, strings.TrimSuffix(filepath.Base(p), MetaExt))
	}
	return stems, nil
}

func (s *Store) handle(stem, guid string) Handle {
	return Handle{GUID: guid, Stem: stem, Path: s.StubPath(stem), MetaPath: s.metaPath(stem)}
}

func (s *Store) writeMeta(stem, guid string) (Handle, error) {
	data, err := yaml.Marshal(Meta{GUID: guid, TypeName: stem, CreatedAt: time.Now().UTC()})
	if err != nil {
		return Handle{}, err
	}
	if err := WriteAtomic(s.metaPath(stem), data); err != nil {
		return Handle{}, fmt.Errorf("write sidecar %s: %w", stem, err)
	}
	return s.handle(stem, guid), nil
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, fmt.Errorf("%w: %s", ErrNoMeta, filepath.Base(path))
	}
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parse sidecar %s: %w", filepath.Base(path), err)
	}
	if meta.GUID == "" {
		return Meta{}, fmt.Errorf("%w: %s has no guid", ErrNoMeta, filepath.Base(path))
	}
	return meta, nil
}

// WriteAtomic writes data to path through a temp file in the same directory.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
