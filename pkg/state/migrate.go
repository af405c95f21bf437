package state

import (
	"fmt"
	"log/slog"

	"github.com/harborlabs/bunkerplan/pkg/oerr"
)

// MigrationFunc transforms a state from one schema version to the next.
type MigrationFunc func(s State) (State, []string, error)

type migrationKey struct {
	from string
	to   string
}

// Migrator upgrades states across schema versions along a linear version
// chain.
type Migrator struct {
	steps      []string
	migrations map[migrationKey]MigrationFunc
	validator  *Validator
}

// MigrationResult reports one auto-migration.
type MigrationResult struct {
	State       State            `json:"-"`
	FromVersion string           `json:"from_version"`
	ToVersion   string           `json:"to_version"`
	Changes     []string         `json:"changes,omitempty"`
	Validation  ValidationResult `json:"validation"`
}

// NewMigrator builds the migrator with the built-in version chain.
func NewMigrator(validator *Validator) *Migrator {
	if validator == nil {
		validator = NewValidator(nil)
	}
	m := &Migrator{
		steps:      []string{"1.0.0", "1.1.0", "2.0.0"},
		migrations: make(map[migrationKey]MigrationFunc),
		validator:  validator,
	}
	m.register("1.0.0", "1.1.0", migrate100to110)
	m.register("1.1.0", "2.0.0", migrate110to200)
	return m
}

func (m *Migrator) register(from, to string, fn MigrationFunc) {
	m.migrations[migrationKey{from: from, to: to}] = fn
}

// Register adds a custom migration step. Both versions must already appear
// in the version chain.
func (m *Migrator) Register(from, to string, fn MigrationFunc) error {
	if m.indexOf(from) < 0 || m.indexOf(to) < 0 {
		return fmt.Errorf("unknown migration versions %s -> %s", from, to)
	}
	m.register(from, to, fn)
	return nil
}

func (m *Migrator) indexOf(version string) int {
	for i, v := range m.steps {
		if v == version {
			return i
		}
	}
	return -1
}

// DetectVersion determines the schema version of a state: an explicit
// version tag wins, else sentinel fields decide.
func (m *Migrator) DetectVersion(s State) string {
	if v := s.Version(); v != "" {
		return v
	}
	if s.Has("reasoning_history") {
		return "1.1.0"
	}
	return "1.0.0"
}

// AutoMigrate detects the state's version and applies migrations in
// sequence until the current version. No-op when already current.
func (m *Migrator) AutoMigrate(s State) (*MigrationResult, error) {
	from := m.DetectVersion(s)
	result := &MigrationResult{State: s, FromVersion: from, ToVersion: from}

	if from == CurrentVersion {
		result.Validation = m.validator.Validate(s)
		return result, nil
	}

	start := m.indexOf(from)
	if start < 0 {
		return nil, oerr.New(oerr.CodeMigrationFailed, "Migrator", "AutoMigrate",
			fmt.Sprintf("unknown schema version '%s'", from))
	}

	current := s
	for i := start; i < len(m.steps)-1; i++ {
		key := migrationKey{from: m.steps[i], to: m.steps[i+1]}
		fn, ok := m.migrations[key]
		if !ok {
			return nil, oerr.New(oerr.CodeMigrationFailed, "Migrator", "AutoMigrate",
				fmt.Sprintf("no migration registered for %s -> %s", key.from, key.to))
		}

		next, changes, err := fn(current)
		if err != nil {
			return nil, oerr.Wrap(oerr.CodeMigrationFailed, "Migrator", "AutoMigrate",
				fmt.Sprintf("migration %s -> %s failed", key.from, key.to), err)
		}
		next[VersionField] = key.to
		current = next
		result.Changes = append(result.Changes, changes...)
		result.ToVersion = key.to

		slog.Debug("Migrated state schema", "from", key.from, "to", key.to, "changes", len(changes))
	}

	result.State = current
	result.Validation = m.validator.Validate(current)
	return result, nil
}

// migrate100to110 introduces the planner reasoning trace.
func migrate100to110(s State) (State, []string, error) {
	out := s.Clone()
	var changes []string
	if !out.Has("reasoning_history") {
		out["reasoning_history"] = []any{}
		changes = append(changes, "added reasoning_history")
	}
	return out, changes, nil
}

// migrate110to200 introduces correlation ids and per-agent status maps.
func migrate110to200(s State) (State, []string, error) {
	out := s.Clone()
	var changes []string
	if !out.Has("correlation_id") {
		out["correlation_id"] = ""
		changes = append(changes, "added correlation_id")
	}
	if !out.Has("agent_status") {
		out["agent_status"] = map[string]any{}
		changes = append(changes, "added agent_status")
	}
	return out, changes, nil
}
