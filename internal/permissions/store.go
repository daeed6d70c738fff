package permissions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the policy settings block.
type Settings struct {
	// RequireJustification makes sensitive calls carry a "justification" argument.
	RequireJustification bool `yaml:"require_justification" json:"require_justification"`
	// DefaultSecure escalates calls no rule matches; otherwise they are allowed.
	DefaultSecure bool `yaml:"default_secure" json:"default_secure"`
}

// Document is the persisted permission policy.
type Document struct {
	Settings Settings `yaml:"settings" json:"settings"`
	Allow    []string `yaml:"allow" json:"allow"`
	Deny     []string `yaml:"deny" json:"deny"`
}

func (d Document) clone() Document {
	d.Allow = append([]string(nil), d.Allow...)
	d.Deny = append([]string(nil), d.Deny...)
	return d
}

// Store loads and saves the policy document.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// FileStore keeps the policy in a YAML file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file is seeded with the defaults.
func (s *FileStore) Load(ctx context.Context) (Document, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		doc := DefaultDocument()
		if err := s.Save(ctx, doc); err != nil {
			return Document{}, err
		}
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read permissions: %w", err)
	}

	// Keys the file omits keep their default; yaml leaves them untouched.
	doc := Document{Settings: DefaultDocument().Settings}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse permissions %s: %w", s.path, err)
	}
	return doc, nil
}

// Save writes the document atomically.
func (s *FileStore) Save(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Allow == nil {
		doc.Allow = []string{}
	}
	if doc.Deny == nil {
		doc.Deny = []string{}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create permissions dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write permissions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace permissions: %w", err)
	}
	return nil
}
