package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/similarity"
	"github.com/lazypower/metacog/internal/store"
)

// Cluster is a connected component of the edge graph with at least two
// members. IDs are sorted.
type Cluster struct {
	IDs []string
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.IDs) }

// ReweaveResult summarizes a reweave pass.
type ReweaveResult struct {
	NewEdges        int
	ReinforcedEdges int
	PrunedEdges     int
	Embedded        int
	Clusters        []Cluster
}

// Reweave rebuilds the relationship graph: it ages existing edges, links
// every pair of entries whose similarity falls in the related band, finds
// clusters and boosts their members.
func (e *Engine) Reweave(ctx context.Context, st *store.Store) ReweaveResult {
	now := e.now()
	var res ReweaveResult

	res.Embedded = e.fillEmbeddings(ctx, st)

	_, res.PrunedEdges = decayEdges(st, now)
	res.PrunedEdges += dropDangling(st)

	seqs := make([]*similarity.Sequence, len(st.Entries))
	for i, entry := range st.Entries {
		seqs[i] = similarity.NewSequence(entry.Text)
	}
	edges := edgeIndex(st)

	for i := 0; i < len(st.Entries); i++ {
		a := st.Entries[i]
		for j := i + 1; j < len(st.Entries); j++ {
			b := st.Entries[j]
			r := similarity.ScoreSequences(seqs[i], seqs[j], a.Embedding, b.Embedding)
			if !similarity.Related(r) {
				continue
			}
			key := pairKey(a.ID, b.ID)
			if edge := edges[key]; edge != nil {
				edge.SetWeight(edge.Weight + EdgeReinforceStep)
				edge.LastSeen = now
				res.ReinforcedEdges++
				continue
			}
			weight := r.Score
			if weight < store.EdgeFloor {
				weight = store.EdgeFloor
			}
			edges[key] = st.AddEdge(a.ID, b.ID, weight, now)
			res.NewEdges++
		}
	}

	res.Clusters = FindClusters(st)
	for _, c := range res.Clusters {
		boost := ClusterBoost * float64(c.Size()-1)
		for _, id := range c.IDs {
			entry := st.Get(id)
			entry.SetStrength(entry.Strength + boost)
		}
	}

	e.Log.Info("reweave: complete",
		zap.Int("new_edges", res.NewEdges),
		zap.Int("reinforced_edges", res.ReinforcedEdges),
		zap.Int("pruned_edges", res.PrunedEdges),
		zap.Int("clusters", len(res.Clusters)))
	return res
}

func pairKey(a, b string) [2]string {
	src, dst := store.Pair(a, b)
	return [2]string{src, dst}
}

// edgeIndex maps each sorted id pair to its edge.
func edgeIndex(st *store.Store) map[[2]string]*store.Edge {
	idx := make(map[[2]string]*store.Edge, len(st.Edges))
	for _, edge := range st.Edges {
		idx[pairKey(edge.Source, edge.Target)] = edge
	}
	return idx
}

// dropDangling removes edges whose endpoints are no longer in the store.
func dropDangling(st *store.Store) int {
	ids := make(map[string]bool, len(st.Entries))
	for _, entry := range st.Entries {
		ids[entry.ID] = true
	}
	return st.FilterEdges(func(edge *store.Edge) bool {
		return ids[edge.Source] && ids[edge.Target] && edge.Source != edge.Target
	})
}

// FindClusters returns the connected components of size two or more,
// largest first, ties broken by smallest member id.
func FindClusters(st *store.Store) []Cluster {
	exists := make(map[string]bool, len(st.Entries))
	for _, entry := range st.Entries {
		exists[entry.ID] = true
	}

	adj := make(map[string][]string)
	for _, edge := range st.Edges {
		if !exists[edge.Source] || !exists[edge.Target] {
			continue
		}
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
		adj[edge.Target] = append(adj[edge.Target], edge.Source)
	}

	starts := make([]string, 0, len(adj))
	for id := range adj {
		starts = append(starts, id)
	}
	sort.Strings(starts)

	visited := make(map[string]bool, len(adj))
	var clusters []Cluster
	for _, start := range starts {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue := []string{start}
		var members []string
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			members = append(members, id)
			for _, next := range adj[id] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, Cluster{IDs: members})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Size() != clusters[j].Size() {
			return clusters[i].Size() > clusters[j].Size()
		}
		return clusters[i].IDs[0] < clusters[j].IDs[0]
	})
	return clusters
}
