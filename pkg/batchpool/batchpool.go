// Package batchpool implements the pending-mutation queue and budgeted
// drain loop from SPEC_FULL.md section 4.5: an ordered id -> {Delete,
// Modify, Insert} map, drained by next_batch_step under a per-call
// instruction budget, yielding control (rather than failing) when the
// budget runs out mid-batch.
//
// The queue itself is a plain ordered Go map rather than an
// ordermap.Map: SPEC_FULL.md only specifies an on-segment byte format for
// the four persistent segments (graph/data-map/backlinks/metadata); the
// batch queue is scoped as transient per-call state, so it is kept
// process-local here, the same simplification already applied to the
// cemetery and free-id list in pkg/vamana.
package batchpool

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Op tags the kind of pending mutation queued for an id.
type Op int

const (
	OpDelete Op = iota
	OpModify
	OpInsert
)

func (o Op) String() string {
	switch o {
	case OpDelete:
		return "delete"
	case OpModify:
		return "modify"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Mutation is one queued unit of work.
type Mutation struct {
	ID   uint32
	Op   Op
	Data []byte // vector bytes for Modify/Insert, unused for Delete
}

// Budget abstracts the host's per-call instruction budget (SPEC_FULL.md's
// rendering of EXECUTION_LIMIT) so next_batch_step can be driven by a real
// step counter in production and a tiny fake in tests (for example to
// exercise the max_iter=1 bailout scenario deterministically).
type Budget interface {
	// Spend charges n units, returning false once the budget is
	// exhausted. A budget running out is not an error: the caller is
	// expected to yield and resume on a later call.
	Spend(n uint64) bool
	Remaining() uint64
}

// CountingBudget is a Budget that allows exactly Limit total Spend units,
// matching the single fixed EXECUTION_LIMIT the host grants each call.
type CountingBudget struct {
	Limit uint64
	spent uint64
}

func NewCountingBudget(limit uint64) *CountingBudget {
	return &CountingBudget{Limit: limit}
}

func (b *CountingBudget) Spend(n uint64) bool {
	if b.spent+n > b.Limit {
		b.spent = b.Limit
		return false
	}
	b.spent += n
	return true
}

func (b *CountingBudget) Remaining() uint64 {
	if b.spent >= b.Limit {
		return 0
	}
	return b.Limit - b.spent
}

// perMutationCost is the fixed budget charge next_batch_step attributes to
// one mutation; it stands in for the host's per-instruction accounting.
const perMutationCost = 1

// Pool is the ordered pending-mutation queue. Duplicate ids are a hard
// error at Add time: the caller that builds a batch is expected to
// de-duplicate before submitting it.
type Pool struct {
	order []uint32
	byID  map[uint32]Mutation
}

func New() *Pool {
	return &Pool{byID: make(map[uint32]Mutation)}
}

// Add enqueues a mutation. Returns an error if id is already queued.
func (p *Pool) Add(m Mutation) error {
	if _, exists := p.byID[m.ID]; exists {
		return errors.Errorf("batchpool: id %d already queued", m.ID)
	}
	p.byID[m.ID] = m
	// keep order sorted so the drain runs in ascending id (key) order.
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] > m.ID })
	p.order = append(p.order, 0)
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = m.ID
	return nil
}

// Len reports the number of pending mutations.
func (p *Pool) Len() int { return len(p.order) }

// Pending returns the queue contents in ascending id order, for
// introspection.
func (p *Pool) Pending() []Mutation {
	out := make([]Mutation, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

func (p *Pool) popFront() (Mutation, bool) {
	if len(p.order) == 0 {
		return Mutation{}, false
	}
	id := p.order[0]
	p.order = p.order[1:]
	m := p.byID[id]
	delete(p.byID, id)
	return m, true
}

// Applier is whatever can carry out queued mutations. pkg/engine binds
// this to its *vamana.Graph.
type Applier interface {
	Alloc(point []float32) uint32
	Free(id uint32)
	Suspect(id uint32)
	Insert(id uint32)
	SetPoint(id uint32, point []float32)
	OverwriteEdges(id uint32, newEdges []uint32)
	Get(id uint32) (point []float32, edges []uint32)
	Consolidate()
}

// DecodePoint turns raw little-endian float32 bytes into a vector; the
// wire format Insert/Modify mutations carry their new vector in.
func DecodePoint(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[4*i : 4*i+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// Result reports how a drain call ended.
type Result struct {
	Applied   int
	Remaining int
	Exhausted bool // true if the budget ran out before the queue drained
}

// NextBatchStep drains up to maxIter mutations (or until the budget is
// exhausted, whichever comes first), applying each against g. Deletes are
// only suspected into the cemetery here; consolidation itself runs once,
// at the very end of the call, only when the queue fully drained and
// budget remains — mirroring "final step does delete consolidation".
func NextBatchStep(p *Pool, g Applier, budget Budget, maxIter int) Result {
	applied := 0
	for applied < maxIter && p.Len() > 0 {
		if !budget.Spend(perMutationCost) {
			return Result{Applied: applied, Remaining: p.Len(), Exhausted: true}
		}
		m, ok := p.popFront()
		if !ok {
			break
		}
		applyOne(g, m)
		applied++
	}

	if p.Len() == 0 && budget.Remaining() > 0 {
		g.Consolidate()
	}

	return Result{Applied: applied, Remaining: p.Len(), Exhausted: false}
}

func applyOne(g Applier, m Mutation) {
	switch m.Op {
	case OpDelete:
		g.Suspect(m.ID)
	case OpInsert:
		point := DecodePoint(m.Data)
		id := g.Alloc(point)
		if id != m.ID {
			// id assignment is sequential and host-driven; a caller
			// supplying an explicit id for Insert is a contract error.
			panic(errors.Errorf("batchpool: insert id mismatch: wanted %d, engine assigned %d", m.ID, id))
		}
		g.Insert(id)
	case OpModify:
		point := DecodePoint(m.Data)
		g.SetPoint(m.ID, point)
		g.Insert(m.ID)
	}
}

// sortedIDs is a small helper retained for debug tooling that wants a
// stable dump of queued ids without depending on map iteration order.
func sortedIDs(m map[uint32]Mutation) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
