// Package graph defines the decision-genealogy domain model: decisions,
// typed relationships between them, and the neighborhood shape returned
// by bounded traversals.
package graph

import "fmt"

// RelationType is a typed, directed link category between two decisions.
// The set of valid types is closed at any given version; see
// RelationTypesVersion.
type RelationType string

const (
	RelImplements  RelationType = "IMPLEMENTS"
	RelDependsOn   RelationType = "DEPENDS_ON"
	RelAffects     RelationType = "AFFECTS"
	RelSupersedes  RelationType = "SUPERSEDES"
	RelDiscussedIn RelationType = "DISCUSSED_IN"
)

// RelationTypesVersion identifies the current relation-type allow-list.
// Bump it whenever a type is added so clients can detect the extension.
const RelationTypesVersion = 1

// relationTypes is the allow-list, in stable declaration order.
var relationTypes = []RelationType{
	RelImplements,
	RelDependsOn,
	RelAffects,
	RelSupersedes,
	RelDiscussedIn,
}

var knownRelationTypes = func() map[RelationType]bool {
	m := make(map[RelationType]bool, len(relationTypes))
	for _, t := range relationTypes {
		m[t] = true
	}
	return m
}()

// RelationTypes returns the current allow-list in stable order.
func RelationTypes() []RelationType {
	out := make([]RelationType, len(relationTypes))
	copy(out, relationTypes)
	return out
}

// Valid reports whether t is in the current allow-list.
func (t RelationType) Valid() bool {
	return knownRelationTypes[t]
}

// ParseRelationType validates a raw string against the allow-list.
func ParseRelationType(s string) (RelationType, error) {
	t := RelationType(s)
	if !t.Valid() {
		return "", NewValidation("type", fmt.Sprintf("unknown relation type %q", s))
	}
	return t, nil
}

// Decision is a recorded project decision. IDs are assigned once by the
// store and never reused, even after deletion (soft delete only).
type Decision struct {
	ID                  int64    `json:"id"`
	Summary             string   `json:"summary"`
	Rationale           string   `json:"rationale,omitempty"`
	ImplementationNotes string   `json:"implementation_notes,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Deleted             bool     `json:"deleted,omitempty"`
	CreatedAt           int64    `json:"created_at"` // unix milliseconds
}

// Relationship is a typed, directed edge between two decisions. Direction
// ("incoming"/"outgoing") is derived per query relative to a center node,
// never stored.
type Relationship struct {
	ID          int64        `json:"id"`
	SourceID    int64        `json:"source_id"`
	TargetID    int64        `json:"target_id"`
	Type        RelationType `json:"type"`
	Description string       `json:"description,omitempty"`
	CreatedAt   int64        `json:"created_at"` // unix milliseconds
}

// Neighbor pairs a decision with the edge it was reached through.
type Neighbor struct {
	Edge Relationship
	Node Decision
}

// Neighborhood is the result of a hop-limited traversal from a center
// decision. Hop1 and Hop2 are deduplicated by node ID and ordered by
// (created_at descending, id descending); Hop2 never contains the center
// or any Hop1 member.
type Neighborhood struct {
	Center     Decision
	Hop1       []Decision
	Hop2       []Decision
	IsExpanded bool
}

// TotalNeighbors is |Hop1| + |Hop2|, computed after truncation.
func (n *Neighborhood) TotalNeighbors() int {
	return len(n.Hop1) + len(n.Hop2)
}
