package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrIndexOutOfRange is returned by index-based mutations when the
// destination has no rule at that position.
var ErrIndexOutOfRange = fmt.Errorf("rule index out of range")

// Store holds the rule document, persists it as a single JSON file, and
// optionally reloads it when the file changes on disk. A missing or
// unreadable file behaves as an empty document: no rules, no
// notifications (fail-closed).
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document
}

// NewStore creates a store backed by the given file and performs the
// initial load.
func NewStore(path string) *Store {
	s := &Store{path: path, doc: Document{}}
	s.reload()
	return s
}

// reload reads the document from disk. Read or parse failures leave an
// empty document and log a warning; they are never propagated.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[rules] cannot read %s: %v (treating as no rules)", s.path, err)
		}
		s.setDoc(Document{})
		return
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[rules] malformed rule document %s: %v (treating as no rules)", s.path, err)
		s.setDoc(Document{})
		return
	}
	if err := doc.Validate(); err != nil {
		log.Printf("[rules] invalid rule document %s: %v (treating as no rules)", s.path, err)
		s.setDoc(Document{})
		return
	}
	s.setDoc(doc)
}

func (s *Store) setDoc(doc Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// save writes the whole document atomically. Caller holds the write lock.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rules-*.json")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp rules file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}

// Watch reloads the document when the backing file changes. It blocks
// until the context is canceled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic saves replace the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch rules dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Printf("[rules] %s changed, reloading", s.path)
				s.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[rules] watcher error: %v", err)
		}
	}
}

// Destinations returns the destination names with at least one rule.
func (s *Store) Destinations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dests := make([]string, 0, len(s.doc))
	for d := range s.doc {
		dests = append(dests, d)
	}
	return dests
}

// Rules returns a copy of the ordered rule list for a destination.
func (s *Store) Rules(destination string) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.doc[destination]
	out := make([]*Rule, len(list))
	copy(out, list)
	return out
}

// Document returns a shallow copy of the whole document.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Document, len(s.doc))
	for d, list := range s.doc {
		cp := make(ruleList, len(list))
		copy(cp, list)
		out[d] = cp
	}
	return out
}

// commit installs the mutated list for a destination and persists the
// document. When the write fails the previous list is restored, so the
// in-memory view never serves a mutation that is not on disk. An empty
// list drops the destination from the document. Caller holds the write
// lock.
func (s *Store) commit(destination string, list ruleList) error {
	prev, existed := s.doc[destination]
	if len(list) == 0 {
		delete(s.doc, destination)
	} else {
		s.doc[destination] = list
	}
	if err := s.save(); err != nil {
		if existed {
			s.doc[destination] = prev
		} else {
			delete(s.doc, destination)
		}
		return err
	}
	return nil
}

// AddRule appends a rule to a destination's list and persists the
// document.
func (s *Store) AddRule(destination string, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(append(ruleList{}, s.doc[destination]...), rule)
	return s.commit(destination, next)
}

// EditRule replaces the rule at index for a destination.
func (s *Store) EditRule(destination string, index int, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.doc[destination]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: index %d for destination %q", ErrIndexOutOfRange, index, destination)
	}
	next := append(ruleList{}, list...)
	next[index] = rule
	return s.commit(destination, next)
}

// DeleteRule removes the rule at index. A destination with no rules
// left is dropped from the document.
func (s *Store) DeleteRule(destination string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.doc[destination]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: index %d for destination %q", ErrIndexOutOfRange, index, destination)
	}
	next := append(append(ruleList{}, list[:index]...), list[index+1:]...)
	return s.commit(destination, next)
}

// ToggleRule flips the enabled flag of the rule at index.
func (s *Store) ToggleRule(destination string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.doc[destination]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: index %d for destination %q", ErrIndexOutOfRange, index, destination)
	}
	toggled := *list[index]
	enabled := !toggled.IsEnabled()
	toggled.Enabled = &enabled
	next := append(ruleList{}, list...)
	next[index] = &toggled
	return s.commit(destination, next)
}
