// Package suitability derives the tie-breaking score a group's members
// publish into leader elections.
package suitability

// Scorer is implemented by anything that can report its own suitability,
// satisfied by *svcproc.ServiceProcess without either package importing
// the other (the Manager wires the two together).
type Scorer interface {
	Suitability() uint64
}

// Provider looks up a named service's current suitability score on
// demand. It holds a reference to the caller's service collection, never
// owns it, so its view is always current with no separate refresh step.
type Provider struct {
	services func() map[string]Scorer
	weight   uint64
}

// New returns a Provider that consults services() on every Score call.
// weight lets an operator bias one node's elections up or down (e.g. a
// preferred leader node) independent of uptime.
func New(services func() map[string]Scorer, weight uint64) *Provider {
	if weight == 0 {
		weight = 1
	}
	return &Provider{services: services, weight: weight}
}

// Score returns name's current suitability, or 0 if name isn't known.
func (p *Provider) Score(name string) uint64 {
	svc, ok := p.services()[name]
	if !ok {
		return 0
	}
	return svc.Suitability() * p.weight
}
