package regrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"regrow.dev/regrow/internal/defs"
	"regrow.dev/regrow/internal/registry"
	"regrow.dev/regrow/internal/snapshot"
	"regrow.dev/regrow/internal/syntax"
	"regrow.dev/regrow/internal/watch"
)

// ManifestSource resolves a unit identity to its precompiled manifest
// records. A nil slice is a miss, never an error.
type ManifestSource interface {
	Manifest(name, uuid string) ([]ManifestRecord, error)
}

// SourceCache retrieves the historical source bytes of a file as
// captured when the owning unit's artifact was built.
type SourceCache interface {
	Source(unit, path string) ([]byte, error)
}

const changeBuffer = 128

// Session tracks the source-level definitions of one running program:
// units register their files as they load, watch loops detect edits,
// and every reload publishes a Change pairing the definitions before
// and after. Multiple independent sessions can coexist in one process.
type Session struct {
	log      *slog.Logger
	ext      string
	manifest ManifestSource
	cache    SourceCache
	realizer Realizer
	waiter   Waiter
	pollIv   time.Duration
	pollOnly bool

	table *defs.Table
	reg   *registry.Registry

	mu       sync.Mutex
	closed   bool
	dirs     map[string]*watch.Dir
	excluded map[string]bool
	quiet    map[string]bool

	changes chan Change

	group     *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
	loadWG    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Session.
type Option func(*Session)

// WithManifestSource supplies the precompiled-artifact manifest lookup
// consulted when a unit loads.
func WithManifestSource(ms ManifestSource) Option {
	return func(s *Session) { s.manifest = ms }
}

// WithSourceCache supplies the historical source retrieval used to
// materialize lazily registered files.
func WithSourceCache(sc SourceCache) Option {
	return func(s *Session) { s.cache = sc }
}

// WithRealizer supplies the side-effecting namespace declaration
// executor. Defaults to StaticRealizer, which declares nothing; hosts
// tracking a live program supply their own.
func WithRealizer(r Realizer) Option {
	return func(s *Session) { s.realizer = r }
}

// WithWaiter replaces the change-wait primitive.
func WithWaiter(w Waiter) Option {
	return func(s *Session) { s.waiter = w }
}

// WithPolling forces timestamp polling at the given interval instead
// of filesystem notifications.
func WithPolling(interval time.Duration) Option {
	return func(s *Session) {
		s.pollOnly = true
		if interval > 0 {
			s.pollIv = interval
		}
	}
}

// WithExtension sets the tracked source extension. Defaults to ".src".
func WithExtension(ext string) Option {
	return func(s *Session) {
		if ext != "" {
			s.ext = ext
		}
	}
}

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New creates a Session. Filesystem notifications are used when
// available; otherwise the session falls back to polling.
func New(opts ...Option) *Session {
	s := &Session{
		ext:      ".src",
		realizer: defs.StaticRealizer{},
		pollIv:   watch.DefaultPollInterval,
		table:    defs.NewTable(),
		reg:      registry.New(),
		dirs:     make(map[string]*watch.Dir),
		excluded: make(map[string]bool),
		quiet:    make(map[string]bool),
		changes:  make(chan Change, changeBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.waiter == nil {
		if s.pollOnly {
			s.waiter = watch.PollWaiter{Interval: s.pollIv}
		} else if w, err := watch.NewNotifyWaiter(); err != nil {
			s.log.Warn("filesystem notifications unavailable; polling instead", "error", err)
			s.waiter = watch.PollWaiter{Interval: s.pollIv}
		} else {
			s.waiter = w
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, s.ctx = errgroup.WithContext(ctx)
	return s
}

// Close stops every watch loop, unblocks pending waits, and waits for
// in-flight registrations to finish.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.waiter.Close()
		s.closeErr = s.group.Wait()
	})
	return s.closeErr
}

// UnitLoaded is the loader callback entry point, invoked once per unit
// right after it finishes loading. Safe to call from a
// latency-sensitive load path: registration runs on a detached
// goroutine and this never blocks.
func (s *Session) UnitLoaded(name, uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.loadWG.Add(1)
	s.group.Go(func() error {
		defer s.loadWG.Done()
		s.registerUnit(name, uuid)
		return nil
	})
}

// IncludeObserved records one inclusion observation: path was included
// while scopeName was the active scope. Entries queue until the owning
// unit loads and claims them.
func (s *Session) IncludeObserved(scopeName, path string) {
	s.reg.PushPending(registry.Include{Scope: scopeName, Path: path})
}

// Exclude removes a unit from tracking: its files are dropped, and its
// pending inclusions are purged so they never match a later unit.
// Quiet suppresses the warning.
func (s *Session) Exclude(name string, quiet bool) {
	s.mu.Lock()
	s.excluded[name] = true
	if quiet {
		s.quiet[name] = true
	}
	s.mu.Unlock()

	purged := s.reg.TakePending(s.matcher(name))
	dropped := s.reg.RemoveUnit(name)
	for _, path := range dropped {
		s.unwatch(path)
	}
	if !quiet {
		s.log.Warn("unit excluded from tracking",
			"unit", name, "purged", len(purged), "dropped", len(dropped))
	}
}

// Excluded returns the excluded unit names, sorted.
func (s *Session) Excluded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.excluded))
	for name := range s.excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Changes returns the stream of reload reports. The channel is never
// closed; stop consuming after Close.
func (s *Session) Changes() <-chan Change {
	return s.changes
}

// Rescan runs one synchronous detection pass over every watched
// directory and returns the resulting changes instead of publishing
// them.
func (s *Session) Rescan(ctx context.Context) []Change {
	var out []Change
	for _, d := range s.dirsSnapshot() {
		if ctx.Err() != nil {
			return out
		}
		out = append(out, s.detect(d)...)
	}
	return out
}

// Settle blocks until every in-flight unit registration has finished.
func (s *Session) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loadWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Units returns the tracked unit names, sorted.
func (s *Session) Units() []string { return s.reg.Units() }

// Unit returns a snapshot of the named unit.
func (s *Session) Unit(name string) (Unit, bool) { return s.reg.Unit(name) }

// Paths returns every tracked file path, sorted.
func (s *Session) Paths() []string { return s.reg.Paths() }

// File returns the tracked entry for path.
func (s *Session) File(path string) (TrackedFile, bool) { return s.reg.File(path) }

// Bundle returns the current definitions of a tracked file,
// materializing them from historical source when the file was
// registered lazily. Retrieval failure surfaces as *CacheReadError.
func (s *Session) Bundle(path string) (*Bundle, error) {
	return s.reg.Materialize(path, s.cacheLoader)
}

// Snapshot captures the current definitions of a tracked file in
// storable form.
func (s *Session) Snapshot(path string) (FileSnapshot, error) {
	f, ok := s.reg.File(path)
	if !ok {
		return FileSnapshot{}, fmt.Errorf("not tracked: %s", path)
	}
	b, err := s.Bundle(path)
	if err != nil {
		return FileSnapshot{}, err
	}
	return snapshot.Capture(path, f.Unit, b, s.table.Name), nil
}

// ScopeName resolves a scope handle to its dotted name.
func (s *Session) ScopeName(h Handle) string { return s.table.Name(h) }

// matcher selects the pending inclusions belonging to a unit: either
// the recorded scope name starts with the unit name, or the file name
// ends in <unit><ext>. Matching is name-based on purpose; an ambiguous
// prefix attributes the entry to whichever unit loads first.
func (s *Session) matcher(unit string) func(registry.Include) bool {
	suffix := unit + s.ext
	return func(inc registry.Include) bool {
		return strings.HasPrefix(inc.Scope, unit) || strings.HasSuffix(inc.Path, suffix)
	}
}

// registerUnit runs detached, once per UnitLoaded call.
func (s *Session) registerUnit(name, uuid string) {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	skip, quiet := s.excluded[name], s.quiet[name]
	s.mu.Unlock()
	if skip {
		purged := s.reg.TakePending(s.matcher(name))
		if !quiet {
			s.log.Warn("load of excluded unit ignored", "unit", name, "purged", len(purged))
		}
		return
	}

	scope := s.table.Ensure(s.table.Root(), name)
	s.reg.EnsureUnit(name, uuid, scope)

	if s.manifest != nil {
		records, err := s.manifest.Manifest(name, uuid)
		if err != nil {
			s.log.Error("artifact manifest lookup failed", "unit", name, "error", err)
		}
		if len(records) > 0 {
			for _, rec := range records {
				s.reg.RecordFile(registry.File{
					Path:  rec.Path,
					Unit:  name,
					Scope: rec.Scope,
					Cache: &registry.CacheRef{Unit: name, UUID: uuid, TopScope: rec.Scope},
				})
				s.watchPath(rec.Path)
			}
			s.log.Info("unit registered lazily from artifact", "unit", name, "files", len(records))
			return
		}
	}

	pending := s.reg.TakePending(s.matcher(name))
	visited := make(map[string]bool)
	for _, inc := range pending {
		scopeH := scope
		if inc.Scope != "" {
			scopeH = s.table.EnsurePath(inc.Scope)
		}
		s.loadUnitFile(inc.Path, name, scopeH, visited)
	}
	s.log.Info("unit registered", "unit", name, "files", len(visited))
}

// loadUnitFile eagerly parses one file into scope, registers it, and
// chases its literal inclusions depth-first. visited breaks inclusion
// cycles within one registration pass.
func (s *Session) loadUnitFile(path, unit string, scope defs.Handle, visited map[string]bool) {
	if visited[path] {
		return
	}
	visited[path] = true

	src, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("included file missing; not tracked", "path", path, "error", err)
		return
	}

	b, incs, err := s.classify(src, path, scope)
	if err != nil {
		// The file contributes nothing this pass and stays out of the
		// unit's file set; a later load observation retries it.
		return
	}
	s.reg.RecordFile(registry.File{
		Path:   path,
		Unit:   unit,
		Scope:  s.table.Name(scope),
		Bundle: b,
	})
	s.watchPath(path)
	s.chaseIncludes(incs, path, unit, visited)
}

// classify parses and classifies one file's source. Failures are
// logged here; callers decide what the failed file's definitions
// become.
func (s *Session) classify(src []byte, path string, scope defs.Handle) (*defs.Bundle, []defs.IncludePoint, error) {
	nodes, err := syntax.Parse(src, path)
	if err != nil {
		var perr *syntax.ParseError
		if errors.As(err, &perr) {
			s.log.Error("parse failed; definitions dropped for this pass",
				"path", perr.Path, "line", perr.Line, "error", perr.Msg)
		} else {
			s.log.Error("parse failed", "path", path, "error", err)
		}
		return nil, nil, err
	}
	b := defs.NewBundle()
	incs, err := defs.ClassifyFile(nodes, path, scope, s.table, s.realizer, b)
	if err != nil {
		s.log.Error("namespace realization failed; definitions dropped",
			"path", path, "error", err)
		return nil, nil, err
	}
	return b, incs, nil
}

func (s *Session) chaseIncludes(incs []defs.IncludePoint, from, unit string, visited map[string]bool) {
	for _, inc := range incs {
		if inc.Target == "" {
			s.log.Warn("inclusion target is not a literal; skipped",
				"path", from, "scope", s.table.Name(inc.Scope))
			continue
		}
		target := inc.Target
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(from), target)
		}
		s.loadUnitFile(target, unit, inc.Scope, visited)
	}
}

// cacheLoader materializes a lazily registered file from its artifact.
func (s *Session) cacheLoader(f registry.File) (*defs.Bundle, error) {
	if f.Cache == nil {
		return nil, errors.New("no artifact reference recorded")
	}
	if s.cache == nil {
		return nil, errors.New("no source cache configured")
	}
	src, err := s.cache.Source(f.Cache.Unit, f.Path)
	if err != nil {
		return nil, err
	}
	nodes, err := syntax.Parse(src, f.Path)
	if err != nil {
		return nil, err
	}
	scope := s.table.EnsurePath(f.Cache.TopScope)
	b := defs.NewBundle()
	// Historical parses never realize: the scopes of a precompiled
	// unit are already live.
	if _, err := defs.ClassifyFile(nodes, f.Path, scope, s.table, defs.StaticRealizer{}, b); err != nil {
		return nil, err
	}
	return b, nil
}

// watchPath adds path's directory to the watch set, starting its loop
// on first use.
func (s *Session) watchPath(path string) {
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[dir]
	if !ok {
		d = watch.NewDir(dir, time.Now())
		s.dirs[dir] = d
		if err := s.waiter.Register(dir); err != nil {
			s.log.Warn("directory registration failed; relying on wait errors",
				"dir", dir, "error", err)
		}
		if !s.closed {
			dd := d
			s.group.Go(func() error {
				s.watchLoop(dd)
				return nil
			})
		}
	}
	d.Track(base)
}

func (s *Session) unwatch(path string) {
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dirs[dir]; ok {
		d.Untrack(base)
	}
}

func (s *Session) dirsSnapshot() []*watch.Dir {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*watch.Dir, 0, len(s.dirs))
	for _, d := range s.dirs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// watchLoop blocks on the wait primitive and runs a detection pass per
// wake-up. It exits when the session closes or the directory has no
// tracked files left.
func (s *Session) watchLoop(d *watch.Dir) {
	for {
		err := s.waiter.Wait(s.ctx, d.Path())
		if s.ctx.Err() != nil || errors.Is(err, watch.ErrClosed) {
			return
		}
		if err != nil {
			s.log.Warn("change wait failed", "dir", d.Path(), "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.pollIv):
			}
		}
		for _, ch := range s.detect(d) {
			select {
			case s.changes <- ch:
			default:
				s.log.Warn("change queue full; report dropped", "path", ch.Path)
			}
		}
		if d.Len() == 0 {
			s.waiter.Forget(d.Path())
			s.mu.Lock()
			delete(s.dirs, d.Path())
			s.mu.Unlock()
			return
		}
	}
}

// detect runs one detection pass over a directory: missing files are
// pruned with a warning, changed files reload.
func (s *Session) detect(d *watch.Dir) []Change {
	changed, missing := d.Detect(time.Now())
	for _, name := range missing {
		path := filepath.Join(d.Path(), name)
		if f, ok := s.reg.DropFile(path); ok {
			s.log.Warn("tracked file disappeared", "path", path, "unit", f.Unit)
		}
	}
	var out []Change
	for _, name := range changed {
		if ch, ok := s.reload(filepath.Join(d.Path(), name)); ok {
			out = append(out, ch)
		}
	}
	return out
}

// reload reparses one changed file. The previous definitions are
// materialized first so the change can report a before/after pair; on
// a failed reparse they stay authoritative and no change is reported.
func (s *Session) reload(path string) (Change, bool) {
	f, ok := s.reg.File(path)
	if !ok {
		return Change{}, false
	}

	before, err := s.reg.Materialize(path, s.cacheLoader)
	if err != nil {
		s.log.Error("prior definitions unavailable", "path", path, "error", err)
		before = nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("tracked file disappeared", "path", path, "error", err)
		s.reg.DropFile(path)
		return Change{}, false
	}

	scope := s.table.EnsurePath(f.Scope)
	after, incs, err := s.classify(src, path, scope)
	if err != nil {
		return Change{}, false
	}

	s.reg.SetBundle(path, after)
	visited := map[string]bool{path: true}
	s.chaseIncludes(incs, path, f.Unit, visited)
	return Change{Path: path, Unit: f.Unit, Before: before, After: after}, true
}
