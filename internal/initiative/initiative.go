// internal/initiative/initiative.go
//
// Initiative store (spec.md §3 Initiative, supplemented by SPEC_FULL.md §2:
// the distilled spec references initiatives without giving them a store).
// Same read/write/validate shape as internal/wuspec, scaled down to a
// smaller schema.

package initiative

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Status mirrors the derived completion state of an initiative.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Phase is one numbered stage of an initiative's multi-phase work.
type Phase struct {
	Number int    `yaml:"number"`
	Status Status `yaml:"status"`
}

// Initiative groups related WUs under multi-phase work (spec.md §3).
type Initiative struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases,omitempty"`
	WUs    []string `yaml:"wus,omitempty"`
	Status Status  `yaml:"status"`
}

// Clone returns a deep copy.
func (in Initiative) Clone() Initiative {
	out := in
	out.Phases = append([]Phase{}, in.Phases...)
	out.WUs = append([]string{}, in.WUs...)
	return out
}

// Validate checks in for the minimal required fields.
func Validate(in Initiative) []error {
	var errs []error
	if in.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if in.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	for _, p := range in.Phases {
		if p.Number < 1 {
			errs = append(errs, fmt.Errorf("phase number %d must be >= 1", p.Number))
		}
	}
	return errs
}

// AddWU appends wuID to in.WUs if not already present, keeping the list
// sorted for deterministic output.
func (in *Initiative) AddWU(wuID string) {
	for _, id := range in.WUs {
		if id == wuID {
			return
		}
	}
	in.WUs = append(in.WUs, wuID)
	sort.Strings(in.WUs)
}

// RemoveWU removes wuID from in.WUs if present.
func (in *Initiative) RemoveWU(wuID string) {
	out := in.WUs[:0]
	for _, id := range in.WUs {
		if id != wuID {
			out = append(out, id)
		}
	}
	in.WUs = out
}

// Recompute derives the initiative's overall status from its phases: done
// only when every phase is done, in_progress once any phase has started,
// planned otherwise. Called by the Lifecycle Coordinator's complete verb
// "in the same transaction" a member WU reaches done (spec.md §4.6).
func (in *Initiative) Recompute() {
	if len(in.Phases) == 0 {
		return
	}
	allDone := true
	anyStarted := false
	for _, p := range in.Phases {
		if p.Status != StatusDone {
			allDone = false
		}
		if p.Status == StatusInProgress || p.Status == StatusDone {
			anyStarted = true
		}
	}
	switch {
	case allDone:
		in.Status = StatusDone
	case anyStarted:
		in.Status = StatusInProgress
	default:
		in.Status = StatusPlanned
	}
}

// Store reads and writes per-initiative YAML files under tasks/initiatives.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir (typically Layout.TasksDir()+"/initiatives").
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Load reads and validates a single initiative by id.
func (s *Store) Load(id string) (Initiative, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Initiative{}, fmt.Errorf("initiative: load %s: %w", id, err)
	}
	var in Initiative
	if err := yaml.Unmarshal(data, &in); err != nil {
		return Initiative{}, fmt.Errorf("initiative: parse %s: %w", id, err)
	}
	if errs := Validate(in); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return in, fmt.Errorf("initiative: invalid %s: %s", id, strings.Join(msgs, "; "))
	}
	return in, nil
}

// Save validates and writes in to its YAML file.
func (s *Store) Save(in Initiative) error {
	if errs := Validate(in); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("initiative: invalid %s: %s", in.ID, strings.Join(msgs, "; "))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("initiative: mkdir: %w", err)
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("initiative: marshal %s: %w", in.ID, err)
	}
	if err := os.WriteFile(s.path(in.ID), data, 0o644); err != nil {
		return fmt.Errorf("initiative: write %s: %w", in.ID, err)
	}
	return nil
}

// LoadAll reads every initiative under the store's directory.
func (s *Store) LoadAll() (map[string]Initiative, error) {
	out := map[string]Initiative{}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("initiative: read dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	for _, id := range ids {
		in, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		out[in.ID] = in
	}
	return out, nil
}
