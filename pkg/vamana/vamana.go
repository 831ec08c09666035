// Package vamana implements the proximity graph engine from SPEC_FULL.md
// section 4.4: alloc/free/get/overwrite_edges/backlink, greedy search,
// robust prune, insert, and tombstone-based delete consolidation.
//
// The greedy-search/prune/medoid shape is grounded on a Go Vamana/diskAnn
// implementation (BuildIndex/pass/greedySearch/robustPrune); the exact
// alloc/free/overwrite_edges/backlink bookkeeping is grounded on the
// original Rust graph engine this specification was distilled from.
package vamana

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"

	"github.com/clankpan/vectune/pkg/distancer"
	"github.com/clankpan/vectune/pkg/metacell"
	"github.com/clankpan/vectune/pkg/nodestore"
	"github.com/clankpan/vectune/pkg/ordermap"
)

// Params are the Vamana tuning parameters, fixed at graph construction and
// persisted in the Running metadata.
type Params struct {
	L     int     // search beam width
	R     int     // max out-degree, equal to NodeStore's K
	Alpha float64 // prune slack, alpha >= 1
}

// DefaultParams matches SPEC_FULL.md section 4.4's stated defaults.
func DefaultParams(r int) Params {
	return Params{L: 125, R: r, Alpha: 2.0}
}

// Fault is the graph engine's trap type: invariant violations and
// unknown-id accesses all panic with a *Fault, recovered at the engine's
// single call boundary.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return errors.Wrapf(f.Err, "vamana: %s", f.Op).Error()
}

func trap(op string, err error) {
	panic(&Fault{Op: op, Err: err})
}

// Graph is the Vamana engine bound to one NodeStore (vectors + edges), one
// backlinks ordered map, and one metadata cell (for id allocation and
// Running-state parameters).
//
// The cemetery and free-id list are process-local, not segment-resident:
// SPEC_FULL.md's non-goals explicitly exclude crash-consistent journaling
// beyond what the single-threaded host already provides, and both lists
// only need to survive across calls within one engine lifetime, which an
// in-memory field on Graph already guarantees for as long as the process
// that owns the engine is alive.
type Graph struct {
	nodes      *nodestore.Store
	backlinks  *ordermap.Map
	cell       *metacell.Cell
	dist       distancer.Provider
	params     Params
	cemetery   []uint32
	cemeterySet map[uint32]bool
	freeIDs    []uint32
}

// New binds a Graph to its storage. dist defaults to the cosine provider
// if nil.
func New(nodes *nodestore.Store, backlinks *ordermap.Map, cell *metacell.Cell, params Params, dist distancer.Provider) *Graph {
	if dist == nil {
		dist = distancer.NewCosineProvider()
	}
	return &Graph{
		nodes:       nodes,
		backlinks:   backlinks,
		cell:        cell,
		dist:        dist,
		params:      params,
		cemeterySet: make(map[uint32]bool),
	}
}

func (g *Graph) SizeL() int       { return g.params.L }
func (g *Graph) SizeR() int       { return g.params.R }
func (g *Graph) SizeA() float64   { return g.params.Alpha }
func (g *Graph) StartID() uint32  { return g.nodes.StartID() }

// backlinkBitmap decodes the roaring bitmap stored for id, or an empty
// bitmap if id has no entry at all (distinct from "allocated with empty
// backlinks", which is also an empty-but-present bitmap — callers that
// need to distinguish "never allocated" use isAllocated instead).
func (g *Graph) backlinkBitmap(id uint32) *roaring.Bitmap {
	raw, ok := g.backlinks.Get(id)
	bm := roaring.New()
	if !ok {
		return bm
	}
	if err := bm.UnmarshalBinary(raw); err != nil {
		trap("backlink", errors.Wrapf(err, "id %d", id))
	}
	return bm
}

func (g *Graph) setBacklinkBitmap(id uint32, bm *roaring.Bitmap) {
	raw, err := bm.ToBytes()
	if err != nil {
		trap("backlink", err)
	}
	g.backlinks.Set(id, raw)
}

func (g *Graph) isAllocated(id uint32) bool {
	_, ok := g.backlinks.Get(id)
	return ok
}

// Get reads node id's point and out-edges. Traps if id was never
// allocated.
func (g *Graph) Get(id uint32) (point []float32, edges []uint32) {
	if !g.isAllocated(id) {
		trap("get", errors.Errorf("unknown id %d", id))
	}
	rec := g.nodes.ReadNode(id)
	return rec.Vector, rec.Edges
}

// Alloc assigns the next free id, writes (point, no edges), and records
// an empty backlink set for it.
func (g *Graph) Alloc(point []float32) uint32 {
	id := g.cell.NextID()
	if err := g.nodes.WriteNode(id, point, nil); err != nil {
		trap("alloc", err)
	}
	g.setBacklinkBitmap(id, roaring.New())
	return id
}

// SetPoint rewrites id's vector in place, keeping its existing out-edges
// untouched. Used by modify mutations, which then re-run Insert to
// re-derive edges for the node's new position.
func (g *Graph) SetPoint(id uint32, point []float32) {
	_, edges := g.Get(id)
	if err := g.nodes.WriteNode(id, point, edges); err != nil {
		trap("set_point", err)
	}
}

// Free removes id from each of its out-neighbors' backlink sets, clears
// id's own backlink set, and appends id to the free-id list. The free-id
// list is a reservation only: nothing in this engine ever consumes from
// it, matching the original's literal (and, per SPEC_FULL.md's open
// questions, deliberately unresolved) reuse policy.
func (g *Graph) Free(id uint32) {
	_, edges := g.Get(id)
	for _, e := range edges {
		g.removeBacklink(e, id)
	}
	g.backlinks.Delete(id)
	g.freeIDs = append(g.freeIDs, id)
}

// FreeIDs returns the reserved-but-unconsumed free-id list, for
// introspection (cmd/vectune debug).
func (g *Graph) FreeIDs() []uint32 {
	out := make([]uint32, len(g.freeIDs))
	copy(out, g.freeIDs)
	return out
}

func (g *Graph) addBacklink(target, from uint32) {
	bm := g.backlinkBitmap(target)
	bm.Add(from)
	g.setBacklinkBitmap(target, bm)
}

func (g *Graph) removeBacklink(target, from uint32) {
	bm := g.backlinkBitmap(target)
	bm.Remove(from)
	g.setBacklinkBitmap(target, bm)
}

// OverwriteEdges replaces id's out-edges with newEdges, maintaining
// backlink symmetry on both sides of the diff. Traps if any referenced id
// (in either the previous or new edge set) has no backlink entry.
func (g *Graph) OverwriteEdges(id uint32, newEdges []uint32) {
	point, prevEdges := g.Get(id)

	prevSet := toSet(prevEdges)
	newSet := toSet(newEdges)

	for _, d := range prevEdges {
		if !newSet[d] {
			if !g.isAllocated(d) {
				trap("overwrite_edges", errors.Errorf("dangling prev edge %d", d))
			}
			g.removeBacklink(d, id)
		}
	}
	for _, a := range newEdges {
		if !prevSet[a] {
			if !g.isAllocated(a) {
				trap("overwrite_edges", errors.Errorf("dangling new edge %d", a))
			}
			g.addBacklink(a, id)
		}
	}

	if err := g.nodes.WriteNode(id, point, newEdges); err != nil {
		trap("overwrite_edges", err)
	}
}

// Backlink returns backlinks(id) in ascending id order, the explicit
// resolution SPEC_FULL.md gives for the backlink-iteration-order open
// question.
func (g *Graph) Backlink(id uint32) []uint32 {
	return g.backlinkBitmap(id).ToArray()
}

// Suspect appends id to the cemetery (tombstone registry), deduplicating
// repeated suspects of the same id.
func (g *Graph) Suspect(id uint32) {
	if g.cemeterySet[id] {
		return
	}
	g.cemeterySet[id] = true
	g.cemetery = append(g.cemetery, id)
}

// Cemetery returns the currently tombstoned ids, in suspect order.
func (g *Graph) Cemetery() []uint32 {
	out := make([]uint32, len(g.cemetery))
	copy(out, g.cemetery)
	return out
}

func (g *Graph) ClearCemetery() {
	g.cemetery = nil
	g.cemeterySet = make(map[uint32]bool)
}

func toSet(ids []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// candidate pairs an id with its distance to the query point, the unit of
// work for greedy search's candidate set and prune's ranking.
type candidate struct {
	id   uint32
	dist float32
}

func sortCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].dist != cs[j].dist {
			return cs[i].dist < cs[j].dist
		}
		return cs[i].id < cs[j].id // ties broken by smaller id
	})
}

// Hit pairs a visited id with its distance to the query point, the unit
// callers needing similarity (1 - dist) rather than bare ids work with.
type Hit struct {
	ID   uint32
	Dist float32
}

// GreedySearch performs the standard Vamana greedy walk from start toward
// query, maintaining a candidate list capped at l. It returns the ids
// visited during the walk, sorted by ascending distance to query (so
// callers needing top-k just slice the prefix) and ties broken by id.
func (g *Graph) GreedySearch(start uint32, query []float32, l int) []uint32 {
	cands := g.greedySearchCandidates(start, query, l)
	out := make([]uint32, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// GreedySearchHits is GreedySearch but keeps each visited id's distance to
// query, for callers (the search RPC) that must report similarity.
func (g *Graph) GreedySearchHits(start uint32, query []float32, l int) []Hit {
	cands := g.greedySearchCandidates(start, query, l)
	out := make([]Hit, len(cands))
	for i, c := range cands {
		out[i] = Hit{ID: c.id, Dist: c.dist}
	}
	return out
}

func (g *Graph) greedySearchCandidates(start uint32, query []float32, l int) []candidate {
	dister := g.dist.New(query)

	distTo := func(id uint32) float32 {
		point, _ := g.Get(id)
		d, _, err := dister.Distance(point)
		if err != nil {
			trap("greedy_search", err)
		}
		return d
	}

	visited := make(map[uint32]bool)
	var visitedList []candidate

	candidates := []candidate{{id: start, dist: distTo(start)}}

	for {
		// find the closest unvisited candidate
		idx := -1
		for i, c := range candidates {
			if !visited[c.id] {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		cur := candidates[idx]
		visited[cur.id] = true
		visitedList = append(visitedList, cur)

		_, edges := g.Get(cur.id)
		for _, e := range edges {
			if visited[e] {
				continue
			}
			already := false
			for _, c := range candidates {
				if c.id == e {
					already = true
					break
				}
			}
			if already {
				continue
			}
			candidates = append(candidates, candidate{id: e, dist: distTo(e)})
		}

		sortCandidates(candidates)
		if len(candidates) > l {
			candidates = candidates[:l]
		}
	}

	sortCandidates(visitedList)
	return visitedList
}

// Prune implements robust edge selection: given candidate ids V for node
// p (p's own id excluded by the caller), return at most r ids chosen for
// diversity under the alpha slack.
func (g *Graph) Prune(p uint32, v []uint32) []uint32 {
	point, _ := g.Get(p)
	dister := g.dist.New(point)

	type entry struct {
		id     uint32
		dist   float32
		vector []float32
	}
	entries := make([]entry, 0, len(v))
	for _, id := range v {
		if id == p {
			continue
		}
		vec, _ := g.Get(id)
		d, _, err := dister.Distance(vec)
		if err != nil {
			trap("prune", err)
		}
		entries = append(entries, entry{id: id, dist: d, vector: vec})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].dist != entries[j].dist {
			return entries[i].dist < entries[j].dist
		}
		return entries[i].id < entries[j].id
	})

	var out []uint32
	for len(entries) > 0 && len(out) < g.params.R {
		best := entries[0]
		out = append(out, best.id)
		entries = entries[1:]

		vDister := g.dist.New(best.vector)
		remaining := entries[:0]
		for _, e := range entries {
			dvw, _, err := vDister.Distance(e.vector)
			if err != nil {
				trap("prune", err)
			}
			if g.params.Alpha*float64(dvw) <= float64(e.dist) {
				continue // dropped: v* dominates w for node p
			}
			remaining = append(remaining, e)
		}
		entries = remaining
	}
	return out
}

// Insert runs greedy search from the start node toward id's own vector,
// prunes the visited set into id's new out-edges, and propagates id into
// each new neighbor's edge list (re-pruning any neighbor pushed over the
// degree bound).
func (g *Graph) Insert(id uint32) {
	point, _ := g.Get(id)
	visited := g.GreedySearch(g.StartID(), point, g.params.L)

	candidates := make([]uint32, 0, len(visited))
	for _, v := range visited {
		if v != id {
			candidates = append(candidates, v)
		}
	}
	newEdges := g.Prune(id, candidates)
	g.OverwriteEdges(id, newEdges)

	for _, e := range newEdges {
		_, eEdges := g.Get(e)
		merged := append(append([]uint32(nil), eEdges...), id)
		if len(merged) > g.params.R {
			merged = g.Prune(e, merged)
		}
		g.OverwriteEdges(e, merged)
	}
}

// Consolidate runs delete consolidation exactly once: every live node
// whose out-edges intersect the cemetery is re-pruned over the union of
// its surviving edges and its tombstoned neighbors' edges, then every
// tombstoned id is freed and the cemetery is cleared.
//
// Candidate nodes p are found via backlinks(t) for t in the cemetery,
// rather than scanning every node: p's out-edge set can only intersect T
// if p points at some t in T, which is exactly backlinks(t).
func (g *Graph) Consolidate() {
	tombstones := g.Cemetery()
	if len(tombstones) == 0 {
		return
	}
	tSet := roaring.New()
	for _, t := range tombstones {
		tSet.Add(t)
	}

	seen := make(map[uint32]bool)
	for _, t := range tombstones {
		for _, p := range g.Backlink(t) {
			if tSet.Contains(p) || seen[p] {
				continue
			}
			seen[p] = true

			_, pEdges := g.Get(p)
			v := roaring.New()
			for _, e := range pEdges {
				if !tSet.Contains(e) {
					v.Add(e)
				}
			}
			for _, e := range pEdges {
				if tSet.Contains(e) {
					_, eEdges := g.Get(e)
					for _, e2 := range eEdges {
						v.Add(e2)
					}
				}
			}
			v.AndNot(tSet)
			v.Remove(p)

			g.OverwriteEdges(p, g.Prune(p, v.ToArray()))
		}
	}

	for _, t := range tombstones {
		g.Free(t)
	}
	g.ClearCemetery()
}
