package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/condr-at/globoox-preview/internal/storage"
)

// StateKey is the app_state row holding the reader state.
const StateKey = "reader-state"

// FilePersister keeps the state in a file, YAML when the name ends in
// .yaml or .yml and indented JSON otherwise.
type FilePersister struct {
	Path string
	mu   sync.Mutex
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (p *FilePersister) Load() (State, bool, error) {
	data, err := os.ReadFile(p.Path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read state file: %w", err)
	}
	var st State
	if p.yaml() {
		err = yaml.Unmarshal(data, &st)
	} else {
		err = json.Unmarshal(data, &st)
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to parse state file: %w", err)
	}
	return st, true, nil
}

func (p *FilePersister) Save(st State) error {
	var data []byte
	var err error
	if p.yaml() {
		data, err = yaml.Marshal(st)
	} else {
		data, err = json.MarshalIndent(st, "", "  ")
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.Path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

func (p *FilePersister) yaml() bool {
	switch strings.ToLower(filepath.Ext(p.Path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// SQLitePersister keeps the state as one JSON value in the app_state table.
type SQLitePersister struct {
	db  *storage.DB
	key string
}

func NewSQLitePersister(db *storage.DB) *SQLitePersister {
	return &SQLitePersister{db: db, key: StateKey}
}

func (p *SQLitePersister) Load() (State, bool, error) {
	data, ok, err := p.db.GetState(context.Background(), p.key)
	if err != nil || !ok {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("failed to parse stored state: %w", err)
	}
	return st, true, nil
}

func (p *SQLitePersister) Save(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.db.PutState(context.Background(), p.key, data)
}
