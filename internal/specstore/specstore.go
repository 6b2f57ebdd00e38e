// Package specstore treats a directory of TOML service declarations as
// authoritative desired state and turns it into an add/remove event
// stream the Manager tick consumes.
package specstore

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/supervisorerrors"
	"github.com/orbitsup/supervisor/internal/types"
)

const specExt = ".spec"

// Event is one spec file transition since the last poll.
type Event struct {
	Kind EventKind
	Name string // ident.name, derived from the spec's basename
	Spec *types.ServiceSpec
}

// EventKind distinguishes add from remove events.
type EventKind int

const (
	AddService EventKind = iota
	RemoveService
)

// Watcher polls a specs directory and diffs it against the caller's
// notion of the currently active set.
type Watcher struct {
	dir    string
	logger zerolog.Logger

	// nudge receives a value whenever fsnotify observes activity in dir,
	// for callers of Nudge that want to poll early. The Manager's run loop
	// does not read it; it polls NewEvents once per tick. It never changes
	// what NewEvents returns — the stat-based diff stays the single source
	// of truth, so a coalesced or missed fsnotify event never produces
	// incorrect behavior.
	nudge   chan struct{}
	watcher *fsnotifyWatcher
}

// New creates a Watcher over dir. It does not touch the filesystem.
func New(dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{dir: dir, logger: logger, nudge: make(chan struct{}, 1)}
}

// Nudge returns a channel that receives a value shortly after the specs
// directory changes on disk, for callers that want to poll more eagerly
// than the tick cadence. Best-effort: a failure to start the underlying
// watcher is logged and callers simply fall back to tick-paced polling.
func (w *Watcher) Nudge() <-chan struct{} {
	return w.nudge
}

// StartWatching begins an fsnotify watch on dir, best-effort.
func (w *Watcher) StartWatching() {
	fw, err := newFsnotifyWatcher(w.dir, w.nudge)
	if err != nil {
		w.logger.Warn().Err(err).Str("module", obslog.ModuleSpecStore).Msg("spec directory watch unavailable, falling back to tick-paced polling")
		return
	}
	w.watcher = fw
}

// Close releases the fsnotify watch, if any.
func (w *Watcher) Close() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// InitialEvents lists AddService for every valid spec file present.
func (w *Watcher) InitialEvents() ([]Event, error) {
	return w.NewEvents(nil)
}

// NewEvents diffs the directory against active (keyed by ident.name),
// returning AddService for new/changed files and RemoveService for files
// that disappeared or now declare desired_state=down. Parse failures are
// logged and the file is ignored this tick, not fatal. Events are ordered
// lexicographically by filename for reproducibility.
func (w *Watcher) NewEvents(active map[string]*types.ServiceSpec) ([]Event, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, &supervisorerrors.BadSpecsPath{Path: w.dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), specExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seen := make(map[string]bool, len(names))
	var events []Event

	for _, name := range names {
		base := strings.TrimSuffix(name, specExt)
		spec, err := w.parse(filepath.Join(w.dir, name))
		if err != nil {
			w.logger.Warn().Err(err).Str("module", obslog.ModuleSpecStore).Str("file", name).Msg("ignoring unparsable spec file this tick")
			continue
		}
		seen[base] = true

		if spec.DesiredState == types.DesiredDown {
			if _, exists := active[base]; exists {
				events = append(events, Event{Kind: RemoveService, Name: base, Spec: spec})
			}
			continue
		}

		prior, exists := active[base]
		if !exists || !equivalent(prior, spec) {
			events = append(events, Event{Kind: AddService, Name: base, Spec: spec})
		}
	}

	// Anything active but no longer backed by a file on disk is removed.
	removedNames := make([]string, 0)
	for base := range active {
		if !seen[base] {
			removedNames = append(removedNames, base)
		}
	}
	sort.Strings(removedNames)
	for _, base := range removedNames {
		events = append(events, Event{Kind: RemoveService, Name: base})
	}

	return events, nil
}

func (w *Watcher) parse(path string) (*types.ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &supervisorerrors.SpecParse{Path: path, Err: err}
	}
	var spec types.ServiceSpec
	if err := toml.Unmarshal(data, &spec); err != nil {
		return nil, &supervisorerrors.SpecParse{Path: path, Err: err}
	}
	if err := validate(&spec); err != nil {
		return nil, &supervisorerrors.SpecParse{Path: path, Err: err}
	}
	return &spec, nil
}

func validate(spec *types.ServiceSpec) error {
	if _, err := spec.ParsedIdent(); err != nil {
		return err
	}
	if _, err := spec.ParsedGroup(); err != nil {
		return err
	}
	if spec.Topology == "" {
		spec.Topology = types.TopologyStandalone
	}
	if spec.UpdateStrategy == "" {
		spec.UpdateStrategy = types.UpdateStrategyNone
	}
	if spec.DesiredState == "" {
		spec.DesiredState = types.DesiredUp
	}
	if spec.StartStyle == "" {
		spec.StartStyle = types.StartPersistent
	}
	return nil
}

func equivalent(a, b *types.ServiceSpec) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Ident == b.Ident &&
		a.Group == b.Group &&
		a.Topology == b.Topology &&
		a.UpdateStrategy == b.UpdateStrategy &&
		a.DesiredState == b.DesiredState &&
		a.StartStyle == b.StartStyle &&
		strings.Join(a.Binds, ",") == strings.Join(b.Binds, ",") &&
		reflect.DeepEqual(a.Config, b.Config)
}
