package semantic

import (
	"fmt"
	"sort"
)

// JoinEdge is one resolved join to include in the FROM clause.
type JoinEdge struct {
	From         string
	To           string
	FromField    string
	ToField      string
	Relationship Relationship
}

// JoinPlan is the output of join planning: the deduplicated edges needed
// to connect base to every required entity, the alias each entity
// renders as, and entities in deterministic alias order.
type JoinPlan struct {
	Edges           []JoinEdge
	AliasByEntity   map[string]string
	OrderedEntities []string
}

type adjEdge struct {
	to           string
	fromField    string
	toField      string
	relationship Relationship
}

// ComputeJoinPath finds the minimal join subgraph connecting base to every
// name in required (required must include base), using BFS shortest paths
// over the undirected graph implied by every loaded entity's declared
// joins. Aliases are assigned deterministically: base -> t0, remaining
// entities in lexicographic order -> t1, t2, ...
func ComputeJoinPath(base string, required []string, reg *Registry) (*JoinPlan, error) {
	adj := buildAdjacency(reg)

	edgeSeen := make(map[string]bool)
	var edges []JoinEdge
	reached := map[string]bool{base: true}

	for _, target := range required {
		if target == base {
			continue
		}
		path, err := bfsPath(adj, base, target)
		if err != nil {
			return nil, err
		}
		for _, e := range path {
			key := e.From + ">" + e.To + ":" + e.FromField + "=" + e.ToField
			if edgeSeen[key] {
				continue
			}
			edgeSeen[key] = true
			edges = append(edges, e)
			reached[e.To] = true
		}
	}

	others := make([]string, 0, len(reached)-1)
	for name := range reached {
		if name != base {
			others = append(others, name)
		}
	}
	sort.Strings(others)

	aliasByEntity := map[string]string{base: "t0"}
	ordered := []string{base}
	for i, name := range others {
		aliasByEntity[name] = fmt.Sprintf("t%d", i+1)
		ordered = append(ordered, name)
	}

	return &JoinPlan{
		Edges:           edges,
		AliasByEntity:   aliasByEntity,
		OrderedEntities: ordered,
	}, nil
}

// buildAdjacency builds an undirected adjacency list from every loaded
// entity's declared joins; each declared edge contributes both directions.
func buildAdjacency(reg *Registry) map[string][]adjEdge {
	adj := make(map[string][]adjEdge)
	for _, name := range reg.Names() {
		entity, _ := reg.Entity(name)
		for _, j := range entity.Joins {
			adj[name] = append(adj[name], adjEdge{
				to:           j.TargetEntity,
				fromField:    j.FromField,
				toField:      j.ToField,
				relationship: j.Relationship,
			})
			adj[j.TargetEntity] = append(adj[j.TargetEntity], adjEdge{
				to:           name,
				fromField:    j.ToField,
				toField:      j.FromField,
				relationship: invertRelationship(j.Relationship),
			})
		}
	}
	return adj
}

func invertRelationship(r Relationship) Relationship {
	switch r {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return r
	}
}

// bfsPath returns the ordered sequence of JoinEdges from base to target.
func bfsPath(adj map[string][]adjEdge, base, target string) ([]JoinEdge, error) {
	if base == target {
		return nil, nil
	}

	type visit struct {
		node string
		via  *adjEdge
		from string
	}

	visited := map[string]bool{base: true}
	parent := make(map[string]visit)
	queue := []string{base}

	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur] {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			parent[e.to] = visit{node: e.to, via: &e, from: cur}
			if e.to == target {
				found = true
				break
			}
			queue = append(queue, e.to)
		}
	}

	if !visited[target] {
		return nil, fmt.Errorf("%w: %q is unreachable from base entity %q", ErrJoin, target, base)
	}

	var reversed []JoinEdge
	node := target
	for node != base {
		v := parent[node]
		reversed = append(reversed, JoinEdge{
			From:         v.from,
			To:           v.node,
			FromField:    v.via.fromField,
			ToField:      v.via.toField,
			Relationship: v.via.relationship,
		})
		node = v.from
	}

	// reverse into base->target order
	path := make([]JoinEdge, len(reversed))
	for i, e := range reversed {
		path[len(reversed)-1-i] = e
	}
	return path, nil
}
