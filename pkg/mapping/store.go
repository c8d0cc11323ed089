// Package mapping holds the tagging rules that rename or ignore captured
// interactions. Rules are loaded from a YAML (or JSON) document and can be
// hot reloaded while the process runs.
//
// Document layout:
//
//	configuration:
//	  rules:
//	    ignoreSwipe: true
//	  events:
//	    "tap.single.handleTap:.LoginButton.LoginScreen":
//	      title: login
//	    "tap":
//	      ignoreElement: true
package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotLoaded is returned when rules are read before the first load
var ErrNotLoaded = errors.New("mapping not loaded")

// Rule is the outcome of a key lookup. Nil fields are unset.
type Rule struct {
	Ignore *bool   `yaml:"ignoreElement,omitempty" json:"ignoreElement,omitempty"`
	Title  *string `yaml:"title,omitempty" json:"title,omitempty"`
}

// Ignored reports whether the rule explicitly vetoes the element
func (r Rule) Ignored() bool {
	return r.Ignore != nil && *r.Ignore
}

// Document is the on-disk rule set
type Document struct {
	Configuration struct {
		// Rules holds global switches such as ignoreTap
		Rules map[string]bool `yaml:"rules" json:"rules"`

		// Events maps a rule key to its rename/ignore rule
		Events map[string]Rule `yaml:"events" json:"events"`
	} `yaml:"configuration" json:"configuration"`
}

// Parse decodes a rule document. JSON input is accepted as YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	return &doc, nil
}

// Options configures a Store
type Options struct {
	Logger *slog.Logger
}

// Store is a concurrency-safe rule set with a readiness signal
type Store struct {
	mu        sync.RWMutex
	doc       *Document
	ready     chan struct{}
	readyOnce sync.Once
	version   int
	logger    *slog.Logger
}

// NewStore creates an empty store. Ready stays open until the first load.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ready:  make(chan struct{}),
		logger: logger.With("component", "mapping"),
	}
}

// LoadFile reads and installs the rules stored at path
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping %s: %w", path, err)
	}
	return s.Load(data)
}

// Load parses data and installs it. The previous rules are kept on error.
func (s *Store) Load(data []byte) error {
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	s.Set(doc)
	return nil
}

// Set installs doc and marks the store ready
func (s *Store) Set(doc *Document) {
	if doc == nil {
		doc = &Document{}
	}

	s.mu.Lock()
	s.doc = doc
	s.version++
	version := s.version
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Debug("mapping installed",
		"version", version,
		"rules", len(doc.Configuration.Rules),
		"events", len(doc.Configuration.Events))
}

// Ready is closed once rules have been installed
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Loaded reports whether rules have been installed
func (s *Store) Loaded() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Version counts successful loads
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of the installed rules, or ErrNotLoaded before
// the first load
func (s *Store) Snapshot() (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return nil, ErrNotLoaded
	}

	var doc Document
	doc.Configuration.Rules = make(map[string]bool, len(s.doc.Configuration.Rules))
	for k, v := range s.doc.Configuration.Rules {
		doc.Configuration.Rules[k] = v
	}
	doc.Configuration.Events = make(map[string]Rule, len(s.doc.Configuration.Events))
	for k, v := range s.doc.Configuration.Events {
		doc.Configuration.Events[k] = v
	}
	return &doc, nil
}

// Lookup resolves a rule key. Event keys come from the events table; any
// other key is looked up among the global switches and reported as an
// ignore rule.
func (s *Store) Lookup(key string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return Rule{}, false
	}

	if rule, ok := s.doc.Configuration.Events[key]; ok {
		return rule, true
	}
	if v, ok := s.doc.Configuration.Rules[key]; ok {
		ignore := v
		return Rule{Ignore: &ignore}, true
	}
	return Rule{}, false
}
