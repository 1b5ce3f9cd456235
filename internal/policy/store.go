package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samijaber1/aegis-budget/internal/metrics"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// Snapshot is an immutable set of validated definitions
type Snapshot struct {
	Version     uint64
	Definitions []slo.Definition
	Errors      []*ConfigurationError
	LoadedAt    time.Time

	byName map[string]slo.Definition
}

// Get returns the definition with the given name
func (s *Snapshot) Get(name string) (slo.Definition, bool) {
	if s == nil {
		return slo.Definition{}, false
	}
	def, ok := s.byName[name]
	return def, ok
}

// Names returns the definition names in order
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Definitions))
	for i, def := range s.Definitions {
		names[i] = def.Name
	}
	return names
}

// Diff lists the names added, removed and changed between prev and next
func Diff(prev, next *Snapshot) (added, removed, changed []string) {
	for _, def := range next.Definitions {
		old, ok := prev.Get(def.Name)
		switch {
		case !ok:
			added = append(added, def.Name)
		case old.Version != def.Version:
			changed = append(changed, def.Name)
		}
	}
	if prev != nil {
		for _, def := range prev.Definitions {
			if _, ok := next.Get(def.Name); !ok {
				removed = append(removed, def.Name)
			}
		}
	}
	return added, removed, changed
}

// ReloadFunc is called after a new snapshot has been installed
type ReloadFunc func(prev, next *Snapshot)

// Store holds the active SLO definitions and swaps them atomically on reload
type Store struct {
	path      string
	validator *slo.Validator
	logger    *slog.Logger

	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	version   uint64
	listeners []ReloadFunc
}

// NewStore creates a store reading SLO documents from path, a directory or a file.
// Nothing is loaded until Load or Reload is called.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	validator, err := slo.NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, validator: validator, logger: logger}, nil
}

// Path returns the configured policy path
func (s *Store) Path() string {
	return s.path
}

// OnReload registers fn to run after every successful reload
func (s *Store) OnReload(fn ReloadFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the active snapshot, or nil before the first load
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Get returns the active definition with the given name
func (s *Store) Get(name string) (slo.Definition, bool) {
	return s.Snapshot().Get(name)
}

// Load reads the policy path and installs the result. Invalid SLOs are
// excluded and returned joined in the error next to the valid definitions.
func (s *Store) Load() ([]slo.Definition, error) {
	snap, err := s.Reload()
	if snap == nil {
		return nil, err
	}
	return snap.Definitions, err
}

// Reload rebuilds the snapshot from the policy path and swaps it in. When the
// path itself cannot be read the previous snapshot stays active and only the
// error is returned. Definitions whose content is unchanged are carried over
// as-is.
func (s *Store) Reload() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		metrics.ObservePolicyReload(metrics.OutcomeError, len(s.Snapshot().errorsOrNil()))
		return nil, fmt.Errorf("read policy path: %w", err)
	}

	prev := s.current.Load()
	next := s.build(prev)

	s.version++
	next.Version = s.version
	s.current.Store(next)

	for _, cerr := range next.Errors {
		s.logger.Warn("SLO excluded from evaluation", "slo", cerr.SLOName, "file", cerr.File, "path", cerr.Path, "err", cerr.Message)
	}
	added, removed, changed := Diff(prev, next)
	s.logger.Info("policy loaded",
		"version", next.Version,
		"slos", len(next.Definitions),
		"errors", len(next.Errors),
		"added", len(added),
		"removed", len(removed),
		"changed", len(changed),
	)
	metrics.ObservePolicyReload(metrics.OutcomeSuccess, len(next.Errors))

	for _, fn := range s.listeners {
		fn(prev, next)
	}

	return next, joinConfigErrors(next.Errors)
}

func (s *Store) build(prev *Snapshot) *Snapshot {
	docs, loadErrs := slo.Load(s.path)

	next := &Snapshot{
		LoadedAt: time.Now().UTC(),
		byName:   make(map[string]slo.Definition),
	}
	for _, lerr := range loadErrs {
		next.Errors = append(next.Errors, fromValidation(lerr))
	}

	// Every copy of a duplicated name is excluded
	duplicates := make(map[string]bool)
	for _, derr := range slo.DuplicateNames(docs) {
		duplicates[derr.SLO] = true
		next.Errors = append(next.Errors, fromValidation(derr))
	}

	for _, doc := range docs {
		name := doc.SLO.Metadata.Name
		if duplicates[name] {
			continue
		}
		if verrs := s.validator.ValidateDocument(doc); len(verrs) > 0 {
			for _, verr := range verrs {
				next.Errors = append(next.Errors, fromValidation(verr))
			}
			continue
		}

		def, err := slo.Compile(doc)
		if err != nil {
			next.Errors = append(next.Errors, &ConfigurationError{File: doc.File, SLOName: name, Message: err.Error()})
			continue
		}
		if old, ok := prev.Get(name); ok && old.Version == def.Version && old.SourceFile == def.SourceFile {
			def = old
		}

		next.Definitions = append(next.Definitions, def)
		next.byName[name] = def
	}

	sort.Slice(next.Definitions, func(i, j int) bool {
		return next.Definitions[i].Name < next.Definitions[j].Name
	})
	return next
}

func (s *Snapshot) errorsOrNil() []*ConfigurationError {
	if s == nil {
		return nil
	}
	return s.Errors
}

func joinConfigErrors(cerrs []*ConfigurationError) error {
	if len(cerrs) == 0 {
		return nil
	}
	errs := make([]error, len(cerrs))
	for i, cerr := range cerrs {
		errs[i] = cerr
	}
	return errors.Join(errs...)
}
