package delegation

import (
	"fmt"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/contract"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// UnitKind tags a graph unit as the coordinating lead or a specialist.
type UnitKind string

const (
	UnitKindLead       UnitKind = "lead"
	UnitKindSpecialist UnitKind = "specialist"
)

// LeadID is the reserved unit id of the coordinating lead.
const LeadID = "lead"

// Unit is one execution unit of the delegation graph: a persona scoped with a
// system prompt, a tool set, and a required output contract. Units are plain
// data; the runner decides how they execute.
type Unit struct {
	Kind         UnitKind
	ID           string
	Name         string
	Profile      profile.Profile
	SystemPrompt string
	Tools        []tools.Tool
	Contract     *contract.Contract
	Temperature  *float64
}

// Edge records one observed delegation from one unit to another.
type Edge struct {
	From string
	To   string
}

// Graph holds the lead, the specialist units, and the delegation edges
// recorded during a run. It is built once per session and grows when handoffs
// name specialists outside the original roster. Graph is not safe for
// concurrent mutation; the runner serializes all access.
type Graph struct {
	lead        *Unit
	specialists map[string]*Unit
	order       []string
	edges       []Edge
}

// Lead returns the coordinating unit.
func (g *Graph) Lead() *Unit { return g.lead }

// Unit returns the unit with the given id, lead included.
func (g *Graph) Unit(id string) (*Unit, bool) {
	if id == g.lead.ID {
		return g.lead, true
	}
	unit, ok := g.specialists[id]
	return unit, ok
}

// Specialists returns the specialist units in insertion order.
func (g *Graph) Specialists() []*Unit {
	out := make([]*Unit, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.specialists[id])
	}
	return out
}

// SpecialistIDs returns the specialist ids in insertion order.
func (g *Graph) SpecialistIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Size returns the number of specialist units.
func (g *Graph) Size() int { return len(g.order) }

// AddSpecialist grows the graph mid-run, typically after a handoff resolved a
// profile outside the original roster.
func (g *Graph) AddSpecialist(unit *Unit) error {
	if unit.Kind != UnitKindSpecialist {
		return fmt.Errorf("unit %q is not a specialist", unit.ID)
	}
	if unit.ID == g.lead.ID {
		return fmt.Errorf("unit id %q is reserved for the lead", unit.ID)
	}
	if _, exists := g.specialists[unit.ID]; exists {
		return fmt.Errorf("specialist %q already in graph", unit.ID)
	}
	g.specialists[unit.ID] = unit
	g.order = append(g.order, unit.ID)
	return nil
}

// AddEdge records one delegation.
func (g *Graph) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// Edges returns the recorded delegations in observation order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}
