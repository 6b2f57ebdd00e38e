package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orbitsup/supervisor/internal/election"
	"github.com/orbitsup/supervisor/internal/eventsink"
	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/gossip"
	"github.com/orbitsup/supervisor/internal/suitability"
	"github.com/orbitsup/supervisor/internal/svcproc"
	"github.com/orbitsup/supervisor/internal/types"
	"github.com/orbitsup/supervisor/internal/updater"
)

// newTestManager builds a Manager without going through New, so tests
// never touch real sockets: gossip is the in-memory fake and there is no
// process lock to contend on.
func newTestManager(t *testing.T, packageRoot string) *Manager {
	t.Helper()

	dir := t.TempDir()
	layout := fslayout.New(fslayout.Config{Custom: dir})
	require.NoError(t, layout.Ensure())

	client := gossip.NewInMemory("node-a")
	resolver := svcproc.NewFSResolver(packageRoot)

	m := &Manager{
		cfg:          Config{},
		layout:       layout,
		logger:       zerolog.Nop(),
		gossipClient: client,
		resolver:     resolver,
		runner:       &fakeRunner{},
		sink:         eventsink.New(nil, "node-a", zerolog.Nop()),
		services:     make(map[string]*svcproc.ServiceProcess),
		updaters:     make(map[string]*updater.ServiceUpdater),
		prevCensus:   make(map[string]*types.CensusGroup),
	}
	scorer := suitability.New(m.scorerView, 1)
	m.coordinator = election.New(client, scorer)
	return m
}

type fakeRunner struct{}

func (fakeRunner) Start(_ context.Context, _ string, _ []string, _ string) (int, func() error, error) {
	return 0, nil, nil
}
func (fakeRunner) Signal(int, syscall.Signal) error { return nil }
func (fakeRunner) Kill(int) error                   { return nil }

func makeFSPackage(t *testing.T, root, origin, name, version, release string) {
	t.Helper()
	dir := filepath.Join(root, origin, name, version, release)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
}

func TestLoadAndUnloadService(t *testing.T) {
	root := t.TempDir()
	makeFSPackage(t, root, "core", "web", "1.0.0", "20260101000000")
	m := newTestManager(t, root)

	spec := &types.ServiceSpec{
		Ident:          "core/web",
		Group:          "web.default",
		Topology:       types.TopologyStandalone,
		UpdateStrategy: types.UpdateStrategyNone,
		DesiredState:   types.DesiredUp,
		StartStyle:     types.StartPersistent,
	}

	require.NoError(t, m.loadService("web", spec))
	require.Len(t, m.services, 1)

	m.unloadService("web")
	require.Len(t, m.services, 0)
}

func TestFoldAllCensusPersistsOnChange(t *testing.T) {
	root := t.TempDir()
	makeFSPackage(t, root, "core", "web", "1.0.0", "20260101000000")
	m := newTestManager(t, root)

	spec := &types.ServiceSpec{
		Ident:          "core/web",
		Group:          "web.default",
		Topology:       types.TopologyStandalone,
		UpdateStrategy: types.UpdateStrategyNone,
		DesiredState:   types.DesiredUp,
		StartStyle:     types.StartPersistent,
	}
	require.NoError(t, m.loadService("web", spec))

	m.gossipClient.InsertServiceRumor(types.Rumor{ServiceGroup: "web.default", MemberID: "node-a", Incarnation: 1})

	changed := m.foldAllCensus()
	require.True(t, changed)
	require.NoError(t, m.persistAll())

	data, err := os.ReadFile(m.layout.DataFile("census.dat"))
	require.NoError(t, err)
	var census map[string]*types.CensusGroup
	require.NoError(t, json.Unmarshal(data, &census))
	require.Contains(t, census, "web.default")
}
