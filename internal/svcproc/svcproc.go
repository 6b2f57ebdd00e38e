// Package svcproc implements ServiceProcess: one child OS process under
// supervision, its health checks, signal handling, and package-upgrade
// swap.
package svcproc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/health"
	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/supervisorerrors"
	"github.com/orbitsup/supervisor/internal/types"
)

// GossipView is the narrow slice of gossip state a ServiceProcess would
// need to insert/refresh its own rumor. Tick does not take one: the
// Manager reinserts a service's rumor when Tick reports it dirty, and is
// the only caller that talks to the full gossip client.
type GossipView interface {
	InsertServiceRumor(r types.Rumor)
}

// Runner abstracts process start/stop so tests can substitute a fake.
// DefaultRunner below wraps os/exec.
type Runner interface {
	Start(ctx context.Context, binPath string, env []string, dir string) (pid int, wait func() error, err error)
	Signal(pid int, sig syscall.Signal) error
	Kill(pid int) error
}

const (
	stopGrace       = 10 * time.Second
	spawnBackoffMax = 30 * time.Second
)

// ServiceProcess owns one child process under supervision.
type ServiceProcess struct {
	mu sync.Mutex

	name   string
	spec   *types.ServiceSpec
	ident  types.PackageIdent // resolved, installed
	group  types.ServiceGroup
	binds  []types.Bind
	layout *fslayout.Layout
	org    string

	resolver PackageResolver
	runner   Runner
	logger   zerolog.Logger

	state        types.ProcessState
	stateEntered time.Time
	pid          int
	wait         func() error
	waitErrCh    chan error

	cfgBytes    []byte
	incarnation uint64

	healthCfg     health.Config
	healthChecker health.Checker
	healthStatus  *health.Status
	lastHealthRun time.Time

	spawnFailures int
	nextSpawnAt   time.Time
}

// DefaultRunner starts services as plain child processes via os/exec.
type DefaultRunner struct{}

func (DefaultRunner) Start(ctx context.Context, binPath string, env []string, dir string) (int, func() error, error) {
	cmd := exec.Command(binPath)
	cmd.Env = env
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}
	return cmd.Process.Pid, cmd.Wait, nil
}

func (DefaultRunner) Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

func (DefaultRunner) Kill(pid int) error {
	return DefaultRunner{}.Signal(pid, syscall.SIGKILL)
}

// Load resolves the installed package for spec and renders the initial
// configuration. It does not start the child.
func Load(spec *types.ServiceSpec, layout *fslayout.Layout, org string, resolver PackageResolver, runner Runner, logger zerolog.Logger) (*ServiceProcess, error) {
	query, err := spec.ParsedIdent()
	if err != nil {
		return nil, &supervisorerrors.SpecParse{Path: spec.Ident, Err: err}
	}
	group, err := spec.ParsedGroup()
	if err != nil {
		return nil, &supervisorerrors.SpecParse{Path: spec.Group, Err: err}
	}
	if group.Organization == "" {
		group.Organization = org
	}

	resolved, _, err := resolver.Resolve(query)
	if err != nil {
		return nil, err
	}

	binds, err := parseBinds(spec.Binds)
	if err != nil {
		return nil, err
	}

	sp := &ServiceProcess{
		name:         query.Name,
		spec:         spec,
		ident:        resolved,
		group:        group,
		binds:        binds,
		layout:       layout,
		org:          org,
		resolver:     resolver,
		runner:       runner,
		logger:       logger,
		state:        types.ProcessDown,
		stateEntered: time.Now(),
		healthCfg:    health.DefaultConfig(),
		healthStatus: health.NewStatus(),
	}
	sp.cfgBytes = sp.renderConfig(nil)
	sp.loadHealthChecker()
	return sp, nil
}

// loadHealthChecker discovers the resolved package's health_check hook and
// wires an ExecChecker for it, the way Habitat drives health checks from
// the package rather than from the service spec. A package with no such
// hook runs unchecked, same as real Habitat services that opt out.
func (sp *ServiceProcess) loadHealthChecker() {
	path, ok := sp.resolver.HookPath(sp.ident, "health_check")
	if !ok {
		sp.healthChecker = nil
		return
	}
	sp.healthChecker = health.NewExecChecker([]string{path}).WithTimeout(sp.healthCfg.Timeout)
}

func parseBinds(raw []string) ([]types.Bind, error) {
	binds := make([]types.Bind, 0, len(raw))
	for _, b := range raw {
		name, rest, ok := cut(b, ":")
		if !ok {
			return nil, fmt.Errorf("invalid bind %q: expected name:group.service[@org]", b)
		}
		group, err := types.ParseServiceGroup(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid bind %q: %w", b, err)
		}
		binds = append(binds, types.Bind{Name: name, Group: group})
	}
	return binds, nil
}

func cut(s, sep string) (before, after string, found bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// Add creates the per-service runtime directory layout.
func (sp *ServiceProcess) Add() error {
	return os.MkdirAll(sp.runtimeDir(), 0o755)
}

func (sp *ServiceProcess) runtimeDir() string {
	return filepath.Join(sp.layout.DataPath, sp.name)
}

func (sp *ServiceProcess) healthFile() string {
	return sp.layout.DataFile(sp.name + ".health")
}

// Name returns the service's name, used as the ServiceProcess map key.
func (sp *ServiceProcess) Name() string { return sp.name }

// Group returns the parsed service group.
func (sp *ServiceProcess) Group() types.ServiceGroup { return sp.group }

// State returns the current lifecycle state.
func (sp *ServiceProcess) State() types.ProcessState {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.state
}

// StateEntered returns when the current state was entered.
func (sp *ServiceProcess) StateEntered() time.Time {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.stateEntered
}

func (sp *ServiceProcess) transition(to types.ProcessState) {
	sp.state = to
	sp.stateEntered = time.Now()
}

// Tick advances the state machine one step. It returns true if the
// service's rumor must be reinserted: config changed, package changed, or
// the incarnation otherwise had to bump.
func (sp *ServiceProcess) Tick(ctx context.Context, census *types.CensusGroup) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	dirty := false

	switch sp.state {
	case types.ProcessDown:
		if sp.spec.DesiredState == types.DesiredUp && time.Now().After(sp.nextSpawnAt) {
			if err := sp.spawnLocked(ctx); err != nil {
				sp.recordSpawnFailureLocked(err)
				return dirty, err
			}
			dirty = true
		}
	case types.ProcessUp:
		if sp.childExitedLocked() {
			sp.transition(types.ProcessDown)
			return dirty, nil
		}
		if sp.needsRestartLocked(census) {
			sp.transition(types.ProcessRestarting)
		}
	case types.ProcessRestarting:
		sp.stopChildLocked()
		if err := sp.spawnLocked(ctx); err != nil {
			sp.recordSpawnFailureLocked(err)
			sp.transition(types.ProcessDown)
			return dirty, err
		}
		dirty = true
	}

	if sp.populateLocked(census) {
		dirty = true
	}

	sp.runHealthCheckLocked(ctx)

	return dirty, nil
}

func (sp *ServiceProcess) childExitedLocked() bool {
	if sp.waitErrCh == nil {
		return false
	}
	select {
	case err := <-sp.waitErrCh:
		if err != nil {
			sp.logger.Warn().Err(err).Str("module", obslog.ModuleService).Str("service", sp.name).Msg("child process exited")
		}
		sp.waitErrCh = nil
		return true
	default:
		return false
	}
}

// needsRestartLocked reports whether the service's own health has failed
// past its retry threshold. Package-driven restarts go through
// SwapPackage instead, triggered by ServiceUpdater.
func (sp *ServiceProcess) needsRestartLocked(census *types.CensusGroup) bool {
	_ = census
	return sp.healthStatus != nil && !sp.healthStatus.Healthy && !sp.healthStatus.InStartPeriod(sp.healthCfg)
}

func (sp *ServiceProcess) spawnLocked(ctx context.Context) error {
	_, binPath, err := sp.resolver.Resolve(sp.ident)
	if err != nil {
		return &supervisorerrors.PackageMissing{Ident: sp.ident.String()}
	}
	if err := os.MkdirAll(sp.runtimeDir(), 0o755); err != nil {
		return &supervisorerrors.ChildSpawn{Service: sp.name, Err: err}
	}

	pid, wait, err := sp.runner.Start(ctx, binPath, sp.env(), sp.runtimeDir())
	if err != nil {
		return &supervisorerrors.ChildSpawn{Service: sp.name, Err: err}
	}

	sp.pid = pid
	sp.waitErrCh = make(chan error, 1)
	go func() { sp.waitErrCh <- wait() }()

	sp.spawnFailures = 0
	sp.transition(types.ProcessUp)
	sp.logger.Info().Str("service", sp.name).Int("pid", pid).Msg("service started")
	return nil
}

func (sp *ServiceProcess) recordSpawnFailureLocked(err error) {
	sp.spawnFailures++
	backoff := time.Duration(1<<uint(min(sp.spawnFailures, 5))) * time.Second
	if backoff > spawnBackoffMax {
		backoff = spawnBackoffMax
	}
	sp.nextSpawnAt = time.Now().Add(backoff)
	sp.logger.Error().Err(err).Str("module", obslog.ModuleService).Str("service", sp.name).Dur("backoff", backoff).Msg("failed to spawn service")

	if _, ok := err.(*supervisorerrors.PackageMissing); ok {
		sp.transition(types.ProcessDown)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (sp *ServiceProcess) env() []string {
	env := os.Environ()
	env = append(env, "SVC_GROUP="+sp.group.String())
	env = append(env, "SVC_CONFIG="+string(sp.cfgBytes))
	return env
}

// Down requests shutdown: synchronous-best-effort with a bounded wait
// before SIGKILL.
func (sp *ServiceProcess) Down() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.spec.DesiredState = types.DesiredDown
	sp.stopChildLocked()
	sp.transition(types.ProcessDown)
}

// Stop is an alias for Down kept for parity with the spec's vocabulary of
// load/start/update/stop transitions.
func (sp *ServiceProcess) Stop() { sp.Down() }

func (sp *ServiceProcess) stopChildLocked() {
	if sp.pid == 0 {
		return
	}
	_ = sp.runner.Signal(sp.pid, syscall.SIGTERM)

	done := make(chan struct{})
	if sp.waitErrCh != nil {
		go func() {
			<-sp.waitErrCh
			close(done)
		}()
	} else {
		close(done)
	}

	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = sp.runner.Kill(sp.pid)
	}
	sp.pid = 0
	sp.waitErrCh = nil
}

// SendSignal forwards a pass-through signal (e.g. SIGUSR1) to the child.
func (sp *ServiceProcess) SendSignal(sig syscall.Signal) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.pid == 0 {
		return nil
	}
	return sp.runner.Signal(sp.pid, sig)
}

// PID returns the current child PID, or 0 if not running.
func (sp *ServiceProcess) PID() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.pid
}

// populateLocked re-renders configuration from the spec's config and the
// census's leader and reports whether it changed. Binds are not rendered
// into the configuration.
func (sp *ServiceProcess) populateLocked(census *types.CensusGroup) bool {
	next := sp.renderConfig(census)
	if string(next) == string(sp.cfgBytes) {
		return false
	}
	sp.cfgBytes = next
	sp.incarnation++
	return true
}

func (sp *ServiceProcess) renderConfig(census *types.CensusGroup) []byte {
	cfg := make(map[string]any, len(sp.spec.Config)+2)
	for k, v := range sp.spec.Config {
		cfg[k] = v
	}
	cfg["topology"] = sp.spec.Topology
	if census != nil && census.Leader != "" {
		cfg["leader"] = census.Leader
	}

	data, err := json.Marshal(sortedMap(cfg))
	if err != nil {
		sp.logger.Error().Err(err).Str("module", obslog.ModuleService).Str("service", sp.name).Msg("failed to render config")
		return sp.cfgBytes
	}
	return data
}

// sortedMap returns a map whose JSON encoding is deterministic; Go's
// encoding/json already sorts map[string]any keys, this just documents
// the invariant callers rely on.
func sortedMap(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return m
}

func (sp *ServiceProcess) runHealthCheckLocked(ctx context.Context) {
	if sp.healthChecker == nil || sp.state != types.ProcessUp {
		return
	}
	if time.Since(sp.lastHealthRun) < sp.healthCfg.Interval {
		return
	}
	sp.lastHealthRun = time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, sp.healthCfg.Timeout)
	result := sp.healthChecker.Check(checkCtx)
	cancel()

	sp.healthStatus.Update(result, sp.healthCfg)

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := fslayout.WriteAtomic(sp.healthFile(), data, 0o644); err != nil {
		sp.logger.Warn().Err(err).Str("module", obslog.ModuleService).Str("service", sp.name).Msg("failed to persist health cache")
	}
}

// SetHealthChecker configures the health.Checker used on tick.
func (sp *ServiceProcess) SetHealthChecker(c health.Checker) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.healthChecker = c
}

// ToRumor projects the service's current state into a gossip rumor.
func (sp *ServiceProcess) ToRumor(memberID string) types.Rumor {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return types.Rumor{
		ServiceGroup: sp.group.String(),
		MemberID:     memberID,
		Incarnation:  sp.incarnation,
		Package:      sp.ident.String(),
		CfgBytes:     append([]byte(nil), sp.cfgBytes...),
	}
}

// ToSpec projects the service's current runtime state back into a spec,
// the inverse of Load.
func (sp *ServiceProcess) ToSpec() *types.ServiceSpec {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	clone := *sp.spec
	clone.Ident = sp.ident.String()
	return &clone
}

// Suitability returns this service's contribution to leader-election
// tie-breaking, used by the suitability provider.
func (sp *ServiceProcess) Suitability() uint64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.state != types.ProcessUp {
		return 0
	}
	return uint64(time.Since(sp.stateEntered).Seconds()) + 1
}

// SwapPackage installs a newer package and marks the service for restart
// on the next tick, bumping its incarnation so the rumor gets reinserted.
// Called by ServiceUpdater.Check when its strategy allows the swap.
func (sp *ServiceProcess) SwapPackage(ident types.PackageIdent) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.ident = ident
	sp.incarnation++
	sp.loadHealthChecker()
	if sp.state == types.ProcessUp {
		sp.transition(types.ProcessRestarting)
	}
}

// Ident returns the currently installed package ident.
func (sp *ServiceProcess) Ident() types.PackageIdent {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.ident
}

// Spec returns a copy of the service's spec as currently held.
func (sp *ServiceProcess) Spec() *types.ServiceSpec {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	clone := *sp.spec
	return &clone
}
