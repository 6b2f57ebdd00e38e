// Package types holds the data model shared by every layer of the
// supervisor: package identifiers, service groups, on-disk specs, and the
// runtime projections folded from gossip rumors.
package types

import (
	"fmt"
	"strings"
)

// PackageIdent is a four-part identifier origin/name[/version[/release]].
// A partial ident (missing version and/or release) can still Satisfy a
// more specific one, which is how upgrade matching works.
type PackageIdent struct {
	Origin  string
	Name    string
	Version string
	Release string
}

// ParsePackageIdent parses "origin/name[/version[/release]]".
func ParsePackageIdent(s string) (PackageIdent, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return PackageIdent{}, fmt.Errorf("invalid package ident %q", s)
	}
	ident := PackageIdent{Origin: parts[0], Name: parts[1]}
	if ident.Origin == "" || ident.Name == "" {
		return PackageIdent{}, fmt.Errorf("invalid package ident %q: empty origin/name", s)
	}
	if len(parts) >= 3 {
		ident.Version = parts[2]
	}
	if len(parts) == 4 {
		ident.Release = parts[3]
	}
	return ident, nil
}

// String renders the ident back to origin/name[/version[/release]].
func (p PackageIdent) String() string {
	s := p.Origin + "/" + p.Name
	if p.Version != "" {
		s += "/" + p.Version
	}
	if p.Release != "" {
		s += "/" + p.Release
	}
	return s
}

// Satisfies reports whether p (the more specific, installed ident) meets
// the query ident q. Every non-empty field in q must match; fields left
// blank in q are wildcards.
func (p PackageIdent) Satisfies(q PackageIdent) bool {
	if q.Origin != "" && q.Origin != p.Origin {
		return false
	}
	if q.Name != "" && q.Name != p.Name {
		return false
	}
	if q.Version != "" && q.Version != p.Version {
		return false
	}
	if q.Release != "" && q.Release != p.Release {
		return false
	}
	return true
}

// NewerThan reports whether p is a newer release than other, comparing
// version then release lexicographically. Real installations use
// monotonically increasing timestamp-style version/release strings, so
// this matches Habitat's own comparison convention.
func (p PackageIdent) NewerThan(other PackageIdent) bool {
	if p.Version != other.Version {
		return p.Version > other.Version
	}
	return p.Release > other.Release
}

// ServiceGroup identifies the unit of election and census:
// service.group[@organization].
type ServiceGroup struct {
	Service      string
	Group        string
	Organization string
}

// ParseServiceGroup parses "service.group[@organization]".
func ParseServiceGroup(s string) (ServiceGroup, error) {
	org := ""
	rest := s
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		rest = s[:idx]
		org = s[idx+1:]
	}
	dot := strings.IndexByte(rest, '.')
	if dot < 0 || dot == 0 || dot == len(rest)-1 {
		return ServiceGroup{}, fmt.Errorf("invalid service group %q", s)
	}
	return ServiceGroup{Service: rest[:dot], Group: rest[dot+1:], Organization: org}, nil
}

// String renders the group back to service.group[@organization].
func (g ServiceGroup) String() string {
	s := g.Service + "." + g.Group
	if g.Organization != "" {
		s += "@" + g.Organization
	}
	return s
}

// Topology controls whether a group holds an election.
type Topology string

const (
	TopologyStandalone Topology = "standalone"
	TopologyLeader     Topology = "leader"
)

// UpdateStrategy controls when a newer installed package replaces the
// running one.
type UpdateStrategy string

const (
	UpdateStrategyNone    UpdateStrategy = "none"
	UpdateStrategyAtOnce  UpdateStrategy = "at-once"
	UpdateStrategyRolling UpdateStrategy = "rolling"
)

// DesiredState is the authoritative lifecycle intent from the spec file.
type DesiredState string

const (
	DesiredUp   DesiredState = "up"
	DesiredDown DesiredState = "down"
)

// StartStyle controls whether a service persists across specs removal
// the way a daemon does, or is expected to run once and exit.
type StartStyle string

const (
	StartPersistent StartStyle = "persistent"
	StartTransient  StartStyle = "transient"
)

// Bind declares a dependency on another service group's exported config,
// e.g. "database:postgresql.default".
type Bind struct {
	Name  string
	Group ServiceGroup
}

// ServiceSpec is the on-disk, TOML-encoded desired state for one service.
// The spec file's basename must encode Ident.Name; the file is the
// authoritative source of desired state.
type ServiceSpec struct {
	Ident          string         `toml:"ident"`
	Group          string         `toml:"group"`
	Topology       Topology       `toml:"topology"`
	UpdateStrategy UpdateStrategy `toml:"update_strategy"`
	DesiredState   DesiredState   `toml:"desired_state"`
	StartStyle     StartStyle     `toml:"start_style"`
	Binds          []string       `toml:"binds,omitempty"`
	Config         map[string]any `toml:"config,omitempty"`
}

// ParsedIdent parses the spec's Ident field.
func (s *ServiceSpec) ParsedIdent() (PackageIdent, error) {
	return ParsePackageIdent(s.Ident)
}

// ParsedGroup parses the spec's Group field. Group must name both the
// service and group components; nothing is filled in from the package
// ident.
func (s *ServiceSpec) ParsedGroup() (ServiceGroup, error) {
	return ParseServiceGroup(s.Group)
}

// ProcessState is the ServiceProcess lifecycle state.
type ProcessState string

const (
	ProcessDown       ProcessState = "Down"
	ProcessUp         ProcessState = "Up"
	ProcessRestarting ProcessState = "Restarting"
)

// Rumor is the opaque-to-gossip payload the core disseminates: service
// presence, election state, or update intent, depending on which store it
// lives in. The core only ever increments Incarnation when mutating its
// own rumor for a group.
type Rumor struct {
	ServiceGroup string
	MemberID     string
	Incarnation  uint64
	Package      string
	CfgBytes     []byte
}

// ElectionStatus tracks the lifecycle of a leader election for a group.
type ElectionStatus string

const (
	ElectionRunning  ElectionStatus = "Running"
	ElectionFinished ElectionStatus = "Finished"
)

// ElectionRumor is the rumor shape used by the elections store.
type ElectionRumor struct {
	ServiceGroup string
	MemberID     string
	Term         uint64
	Status       ElectionStatus
	Suitability  uint64
	Winner       string
}

// CensusEntry is one member's view within a CensusGroup.
type CensusEntry struct {
	MemberID    string
	Alive       bool
	Package     string
	CfgBytes    []byte
	Incarnation uint64
}

// CensusGroup is the per-ServiceGroup fold of every rumor store plus the
// live member list.
type CensusGroup struct {
	Members      map[string]*CensusEntry
	Leader       string // empty means no elected leader
	UpdateLeader string // empty means no elected update leader
	Changed      bool
}

// Me returns this node's own entry, or nil if this node holds no rumor for
// the group yet.
func (g *CensusGroup) Me(memberID string) *CensusEntry {
	return g.Members[memberID]
}

// ServiceStatus is the externally-visible per-service record persisted to
// services.dat and rendered by the status reader / HTTP gateway.
type ServiceStatus struct {
	Package    string           `json:"package"`
	Supervisor SupervisorStatus `json:"supervisor"`
}

// SupervisorStatus is the nested supervisor block of ServiceStatus.
type SupervisorStatus struct {
	PID          *uint32      `json:"pid"`
	State        ProcessState `json:"state"`
	StateEntered int64        `json:"state_entered"`
}
