// Package manager implements the supervisor's run loop: the single
// goroutine that ticks once a second, reconciling specs, gossip, census,
// and service state into each other.
package manager

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orbitsup/supervisor/internal/election"
	"github.com/orbitsup/supervisor/internal/eventsink"
	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/gossip"
	"github.com/orbitsup/supervisor/internal/lock"
	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/obsmetrics"
	"github.com/orbitsup/supervisor/internal/specstore"
	"github.com/orbitsup/supervisor/internal/suitability"
	"github.com/orbitsup/supervisor/internal/supervisorerrors"
	"github.com/orbitsup/supervisor/internal/svcproc"
	"github.com/orbitsup/supervisor/internal/types"
	"github.com/orbitsup/supervisor/internal/updater"
)

const defaultTickInterval = 1 * time.Second

// Config holds everything needed to boot a Manager.
type Config struct {
	Layout             fslayout.Config
	GossipBindAddr     string
	GossipBindPort     int
	GossipSeeds        []string
	GossipSecretKey    []byte
	EventSinkEndpoints []string
	PackageRoot        string
	Organization       string
	TickInterval       time.Duration
	SuitabilityWeight  uint64
}

// Manager owns one node's worth of supervised services.
type Manager struct {
	cfg    Config
	layout *fslayout.Layout
	lock   *lock.ProcessLock
	logger zerolog.Logger

	watcher      *specstore.Watcher
	gossipClient gossip.Client
	resolver     svcproc.PackageResolver
	runner       svcproc.Runner
	sink         *eventsink.Sink
	coordinator  *election.Coordinator

	mu               sync.RWMutex
	services         map[string]*svcproc.ServiceProcess
	updaters         map[string]*updater.ServiceUpdater
	prevCensus       map[string]*types.CensusGroup
	prevStateEntered map[string]time.Time

	passthroughCh chan os.Signal
	sinkCancel    context.CancelFunc
}

// New resolves the layout, acquires the process lock, and wires the
// gossip transport and event sink. It loads no services: Run loads the
// initial set from the specs directory before its first tick.
func New(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaultTickInterval
	}

	layout := fslayout.New(cfg.Layout)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	processLock := lock.New(layout.LockPath)
	if err := processLock.Acquire(); err != nil {
		return nil, err
	}

	memberID, err := loadOrCreateMemberID(layout.MemberID)
	if err != nil {
		processLock.Release()
		return nil, err
	}

	gossipClient, err := gossip.New(gossip.Config{
		NodeName:  memberID,
		BindAddr:  cfg.GossipBindAddr,
		BindPort:  cfg.GossipBindPort,
		Seeds:     cfg.GossipSeeds,
		SecretKey: cfg.GossipSecretKey,
	}, logger.With().Str("component", "gossip").Logger())
	if err != nil {
		processLock.Release()
		return nil, fmt.Errorf("start gossip transport: %w", err)
	}

	m := &Manager{
		cfg:              cfg,
		layout:           layout,
		lock:             processLock,
		logger:           logger,
		watcher:          specstore.New(layout.SpecsPath, logger),
		gossipClient:     gossipClient,
		resolver:         svcproc.NewFSResolver(cfg.PackageRoot),
		runner:           svcproc.DefaultRunner{},
		sink:             eventsink.New(cfg.EventSinkEndpoints, memberID, logger.With().Str("component", "event-sink").Logger()),
		services:         make(map[string]*svcproc.ServiceProcess),
		updaters:         make(map[string]*updater.ServiceUpdater),
		prevCensus:       make(map[string]*types.CensusGroup),
		prevStateEntered: make(map[string]time.Time),
		passthroughCh:    make(chan os.Signal, 1),
	}

	scorer := suitability.New(m.scorerView, cfg.SuitabilityWeight)
	m.coordinator = election.New(gossipClient, scorer)

	return m, nil
}

func (m *Manager) scorerView() map[string]suitability.Scorer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view := make(map[string]suitability.Scorer, len(m.services))
	for name, sp := range m.services {
		view[name] = sp
	}
	return view
}

func loadOrCreateMemberID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", &supervisorerrors.BadDataFile{Path: path, Err: err}
	}

	id := uuid.NewString()
	if err := fslayout.WriteAtomic(path, []byte(id), 0o644); err != nil {
		return "", &supervisorerrors.BadDataFile{Path: path, Err: err}
	}
	return id, nil
}

// Run boots initial services from the specs directory, starts the event
// sink, and blocks ticking at cfg.TickInterval until ctx is cancelled or
// SIGTERM/SIGINT is received. It always releases the process lock before
// returning.
func (m *Manager) Run(ctx context.Context) error {
	defer m.lock.Release()
	defer m.gossipClient.Close()

	sinkCtx, cancel := context.WithCancel(ctx)
	m.sinkCancel = cancel
	defer cancel()
	go m.sink.Run(sinkCtx)

	m.watcher.StartWatching()
	defer m.watcher.Close()

	if err := m.bootServices(); err != nil {
		return err
	}
	if err := m.persistAll(); err != nil {
		m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Msg("initial persistence failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	signal.Notify(m.passthroughCh, syscall.SIGUSR1)
	defer signal.Stop(m.passthroughCh)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info().Str("member_id", m.gossipClient.LocalMemberID()).Msg("supervisor running")

	for {
		select {
		case <-ctx.Done():
			m.shutdownServices()
			return ctx.Err()
		case sig := <-sigCh:
			m.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			m.shutdownServices()
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) bootServices() error {
	events, err := m.watcher.InitialEvents()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Kind == specstore.AddService {
			if err := m.loadService(ev.Name, ev.Spec); err != nil {
				m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Str("service", ev.Name).Msg("failed to load service at boot")
			}
		}
	}
	return nil
}

func (m *Manager) shutdownServices() {
	m.mu.RLock()
	services := make([]*svcproc.ServiceProcess, 0, len(m.services))
	for _, sp := range m.services {
		services = append(services, sp)
	}
	m.mu.RUnlock()

	for _, sp := range services {
		sp.Stop()
	}
}

// checkPassthroughSignal is tick step 1: if a pass-through signal (e.g.
// SIGUSR1) arrived since the last tick, forward it to every loaded
// service. Shutdown signals are handled separately in Run's select loop,
// since they end the loop rather than feeding into a tick.
func (m *Manager) checkPassthroughSignal() {
	select {
	case sig := <-m.passthroughCh:
		m.fanOutSignal(sig)
	default:
	}
}

func (m *Manager) fanOutSignal(sig os.Signal) {
	unixSig, ok := sig.(syscall.Signal)
	if !ok {
		return
	}

	m.mu.RLock()
	services := make([]*svcproc.ServiceProcess, 0, len(m.services))
	for _, sp := range m.services {
		services = append(services, sp)
	}
	m.mu.RUnlock()

	for _, sp := range services {
		if err := sp.SendSignal(unixSig); err != nil {
			m.logger.Warn().Err(err).Str("module", obslog.ModuleManager).Str("service", sp.Name()).Str("signal", sig.String()).Msg("failed to forward signal to service")
		}
	}
}

// tick runs the nine ordered steps of one Manager cycle. A panic from a
// poisoned lock (a prior tick step left shared state inconsistent) is
// logged at error level and re-raised: the spec treats this as unrecoverable,
// not something to paper over and keep ticking on.
func (m *Manager) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		obsmetrics.TickDuration.Observe(time.Since(start).Seconds())
		obsmetrics.TickCyclesTotal.Inc()
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("module", obslog.ModuleManager).Interface("panic", r).Msg("manager tick panicked, state is unrecoverable")
			panic(r)
		}
	}()

	m.checkPassthroughSignal()
	m.reconcileSpecs()
	m.scanPackageUpdates()
	m.maintainElections()

	changed := m.foldAllCensus()
	stateDirty := m.stateDirty()

	if changed || stateDirty {
		if err := m.persistAll(); err != nil {
			m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Msg("failed to persist state")
		}
	}

	m.tickServices(ctx)

	obsmetrics.GossipMembers.Set(float64(len(m.gossipClient.Members())))
}

func (m *Manager) persistAll() error {
	if err := m.persistServices(); err != nil {
		return fmt.Errorf("persist services: %w", err)
	}
	if err := m.persistCensus(); err != nil {
		return fmt.Errorf("persist census: %w", err)
	}
	if err := m.persistGossip(); err != nil {
		return fmt.Errorf("persist gossip: %w", err)
	}
	return nil
}

// Shutdown cancels the event sink. It does not stop the tick loop: Run
// returns only when the caller's ctx is cancelled or a shutdown signal
// arrives.
func (m *Manager) Shutdown() {
	if m.sinkCancel != nil {
		m.sinkCancel()
	}
}
