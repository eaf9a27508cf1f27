package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"geninst/internal/dispatch"
	"geninst/internal/module"
	"geninst/internal/registry"
	"geninst/internal/relay"
)

// fileState is the msgpack document held by a FileStore.
type fileState struct {
	Snapshot *registry.Snapshot    `msgpack:"snapshot"`
	Relay    *relay.PendingRequest `msgpack:"relay"`
	Methods  []dispatch.Method     `msgpack:"methods"`
}

// FileStore keeps all state in a single msgpack file, replaced atomically on
// every save.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (fileState, error) {
	var st fileState
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return st, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) update(mutate func(*fileState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	mutate(&st)

	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&st); err != nil {
		return err
	}
	return module.WriteAtomic(s.path, buf.Bytes())
}

func (s *FileStore) LoadSnapshot(context.Context) (*registry.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	return st.Snapshot, err
}

func (s *FileStore) SaveSnapshot(_ context.Context, snap *registry.Snapshot) error {
	return s.update(func(st *fileState) { st.Snapshot = snap })
}

func (s *FileStore) LoadRelay(context.Context) (*relay.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	return st.Relay, err
}

func (s *FileStore) SaveRelay(_ context.Context, req *relay.PendingRequest) error {
	return s.update(func(st *fileState) { st.Relay = req })
}

func (s *FileStore) LoadMethods(context.Context) ([]dispatch.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	return st.Methods, err
}

func (s *FileStore) SaveMethods(_ context.Context, methods []dispatch.Method) error {
	return s.update(func(st *fileState) { st.Methods = methods })
}
