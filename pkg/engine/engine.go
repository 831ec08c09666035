// Package engine assembles the segment store, metadata cell, chunk
// loader, graph, and batch pool into the single-threaded, single-call-at-
// a-time instance SPEC_FULL.md section 5 describes, and implements the
// external RPC surface from section 6.
//
// Concurrency is rendered as a single mutex guarding one in-process call
// at a time, matching the host's single-threaded execution model; traps
// are rendered as panics recovered exactly once at Call, which also
// snapshots and restores segment bytes around the call so a trapped call
// leaves no partial effect, mirroring the host's whole-call rollback.
package engine

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/clankpan/vectune/internal/metrics"
	"github.com/clankpan/vectune/pkg/batchpool"
	"github.com/clankpan/vectune/pkg/chunkloader"
	"github.com/clankpan/vectune/pkg/distancer"
	"github.com/clankpan/vectune/pkg/metacell"
	"github.com/clankpan/vectune/pkg/nodestore"
	"github.com/clankpan/vectune/pkg/ordermap"
	"github.com/clankpan/vectune/pkg/payloadstore"
	"github.com/clankpan/vectune/pkg/segment"
	"github.com/clankpan/vectune/pkg/vamana"

	"sync"
)

// Engine is one running instance, bound to one segment.Store.
type Engine struct {
	mu sync.Mutex

	log zerolog.Logger
	met *metrics.Registry

	store  *segment.Store
	cell   *metacell.Cell
	loader   *chunkloader.Loader
	pool     *batchpool.Pool
	graph    *vamana.Graph        // nil until Running
	payloads *payloadstore.Store  // nil until Running
}

// Options configures a new Engine.
type Options struct {
	Log     zerolog.Logger
	Metrics *metrics.Registry
	Params  vamana.Params // used by Open for a Running store; zero R means DefaultParams
}

// New creates a fresh engine (fresh store, Initial metadata cell).
func New(name, version string, opts Options) *Engine {
	store := segment.NewStore()
	cell := metacell.New(store.Metadata, name, version)
	e := &Engine{
		log:    opts.Log,
		met:    opts.Metrics,
		store:  store,
		cell:   cell,
		loader: chunkloader.New(cell, store),
		pool:   batchpool.New(),
	}
	return e
}

// Open reconstructs an Engine purely from an existing segment.Store (the
// host's "reload a stopped instance" path).
func Open(store *segment.Store, opts Options) (*Engine, error) {
	cell, err := metacell.Open(store.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "engine: open metacell")
	}
	e := &Engine{
		log:    opts.Log,
		met:    opts.Metrics,
		store:  store,
		cell:   cell,
		loader: chunkloader.New(cell, store),
		pool:   batchpool.New(),
	}
	if cell.Kind() == metacell.KindRunning {
		if err := e.wireGraph(opts.Params); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) wireGraph(params vamana.Params) error {
	st := e.cell.State()
	nodes, err := nodestore.Open(e.store.Graph)
	if err != nil {
		return errors.Wrap(err, "engine: open nodestore")
	}
	backlinks, err := ordermap.Open(e.store.Backlinks)
	if err != nil {
		return errors.Wrap(err, "engine: open backlinks map")
	}
	dataMap, err := ordermap.Open(e.store.DataMap)
	if err != nil {
		return errors.Wrap(err, "engine: open data map")
	}
	if params.R == 0 {
		params = vamana.DefaultParams(int(st.EdgeDegrees))
	}
	e.graph = vamana.New(nodes, backlinks, e.cell, params, distancer.NewCosineProvider())
	e.payloads = payloadstore.Open(dataMap)
	return nil
}

// Call is the single per-call boundary: it serializes execution, snapshots
// segment bytes, recovers any trap, and restores the snapshot on trap so
// the call's effects are all-or-nothing. fn's returned error is NOT a
// trap: it propagates normally and its (partial) effects are kept,
// matching a host call that returns a Result::Err without panicking.
func (e *Engine) Call(name string, fn func() error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.store.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			e.store.Restore(snap)
			err = fmt.Errorf("engine: call %q trapped: %v", name, r)
			if e.met != nil {
				e.met.RecordTrap(name)
			}
			e.log.Error().Str("call", name).Interface("panic", r).Msg("call trapped, state rolled back")
		}
	}()

	err = fn()
	if e.met != nil {
		e.met.RecordCall(name, err == nil)
	}
	return err
}

// StatusCode reports the metadata cell's current Kind as an integer
// (0=Initial, 1=Loading, 2=Running), per section 6's RPC table.
func (e *Engine) StatusCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cell.Kind().StatusCode()
}

// StartLoading begins the chunked-upload bootstrap sequence.
func (e *Engine) StartLoading(ng, nd, nb uint32, chunkSize uint64, dbKey string, medoid, numVectors, vectorDim, edgeDegrees uint32) error {
	return e.Call("start_loading", func() error {
		return e.loader.StartLoading(ng, nd, nb, chunkSize, dbKey, medoid, numVectors, vectorDim, edgeDegrees)
	})
}

// UploadChunk writes one chunk of one stream.
func (e *Engine) UploadChunk(stream segment.Stream, index uint32, data []byte) error {
	return e.Call("upload_chunk", func() error {
		return e.loader.UploadChunk(stream, index, data)
	})
}

// MissingChunks returns one paginated window of the received-bitmap for
// stream. Read-only: still routed through Call for uniform trap/metrics
// handling.
func (e *Engine) MissingChunks(stream segment.Stream, section uint64) (out []byte, err error) {
	err = e.Call("missing_chunks", func() error {
		out = e.loader.MissingChunks(stream, section)
		return nil
	})
	return out, err
}

// StartRunning transitions Loading -> Running and wires up the graph
// engine against the now-complete segments.
func (e *Engine) StartRunning(params vamana.Params) error {
	return e.Call("start_running", func() error {
		st := e.cell.State()
		nodes, err := nodestore.Open(e.store.Graph)
		if err != nil {
			return errors.Wrap(err, "open nodestore")
		}
		e.loader.StartRunning(nodes.NumNodes())
		if params.R == 0 {
			params = vamana.DefaultParams(int(st.EdgeDegrees))
		}
		return e.wireGraph(params)
	})
}

// Reset transitions Loading|Running back to Initial, dropping the wired
// graph (segment bytes are left as-is; a subsequent StartLoading
// overwrites what it needs).
func (e *Engine) Reset() error {
	return e.Call("reset", func() error {
		e.cell.Reset()
		e.graph = nil
		e.pool = batchpool.New()
		return nil
	})
}

// SetPayload stores the raw bytes id's search results should carry,
// independent of the batch pool (a payload update never touches the
// graph, so it does not need to wait for next_batch_step to drain).
func (e *Engine) SetPayload(id uint32, payload []byte) error {
	return e.Call("set_payload", func() error {
		e.cell.RequireRunning("set_payload")
		e.payloads.Set(id, payload)
		return nil
	})
}

// EnqueueDelete, EnqueueInsert, and EnqueueModify build up the batch pool
// ahead of a NextBatchStep call.
func (e *Engine) EnqueueDelete(id uint32) error {
	return e.Call("batch_pool_delete", func() error {
		return e.pool.Add(batchpool.Mutation{ID: id, Op: batchpool.OpDelete})
	})
}

func (e *Engine) EnqueueInsert(id uint32, point []byte) error {
	return e.Call("batch_pool_insert", func() error {
		return e.pool.Add(batchpool.Mutation{ID: id, Op: batchpool.OpInsert, Data: point})
	})
}

func (e *Engine) EnqueueModify(id uint32, point []byte) error {
	return e.Call("batch_pool_modify", func() error {
		return e.pool.Add(batchpool.Mutation{ID: id, Op: batchpool.OpModify, Data: point})
	})
}

// BatchPoolLen reports how many mutations are currently queued.
func (e *Engine) BatchPoolLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Len()
}

// NextBatchStep drains up to maxIter queued mutations under budget,
// requiring the engine to be Running.
func (e *Engine) NextBatchStep(budget batchpool.Budget, maxIter int) (res batchpool.Result, err error) {
	err = e.Call("next_batch_step", func() error {
		e.cell.RequireRunning("next_batch_step")
		res = batchpool.NextBatchStep(e.pool, e.graph, budget, maxIter)
		if e.met != nil {
			e.met.RecordBatchStep(res.Applied, res.Remaining)
		}
		return nil
	})
	return res, err
}

// SearchHit is one result from Search: the winning node's id, its
// similarity to the query (1 - distance), and its associated payload
// bytes from the data map, if any was ever stored for that id.
type SearchHit struct {
	ID         uint32
	Similarity float32
	Payload    []byte
}

// Search runs a top-k cosine search from the graph's start node with beam
// width l, requiring the engine to be Running. It traps if k > l, the
// precondition section 4.6 places on search(q, k, L'), and attaches each
// result's stored payload from the data map.
func (e *Engine) Search(query []float32, k, l int) (hits []SearchHit, err error) {
	err = e.Call("search", func() error {
		e.cell.RequireRunning("search")
		if k > l {
			panic(errors.Errorf("search: k (%d) exceeds beam width l (%d)", k, l))
		}
		visited := e.graph.GreedySearchHits(e.graph.StartID(), query, l)
		if len(visited) > k {
			visited = visited[:k]
		}
		hits = make([]SearchHit, len(visited))
		for i, hit := range visited {
			payload, _ := e.payloads.Get(hit.ID)
			hits[i] = SearchHit{ID: hit.ID, Similarity: 1 - hit.Dist, Payload: payload}
		}
		if e.met != nil {
			e.met.RecordSearch(len(hits))
		}
		return nil
	})
	return hits, err
}

// Store exposes the underlying segment store, for callers that need the
// raw segment bytes (for example to reopen them later with Open).
func (e *Engine) Store() *segment.Store { return e.store }

// Cell exposes the metadata cell for read-only introspection.
func (e *Engine) Cell() *metacell.Cell { return e.cell }
