package storage

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lensmerge/pkg/projector"
)

// scaleThreshold is the number of documents per shard past which the shard
// count doubles.
const scaleThreshold = 10_000

const defaultShards = 64

// Entry is one document. Mu serializes every call on Backend, which is not
// safe for concurrent use.
type Entry struct {
	Mu          sync.Mutex
	Backend     *projector.Backend
	LastUpdated time.Time
}

type Shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

func newShard() *Shard {
	return &Shard{data: make(map[string]*Entry, 128)}
}

// Engine maps document ids to entries over a power-of-two number of shards.
type Engine struct {
	// resize is held for writing only while shards are redistributed.
	resize    sync.RWMutex
	shards    atomic.Pointer[[]*Shard]
	numShards atomic.Uint32
	growing   atomic.Bool
	threshold int64

	countKeys atomic.Int64
}

func NewEngine(initialShards int) *Engine {
	if initialShards <= 0 {
		initialShards = defaultShards
	}
	n := uint32(1)
	for n < uint32(initialShards) {
		n <<= 1
	}

	e := &Engine{threshold: scaleThreshold}
	shards := make([]*Shard, n)
	for i := range shards {
		shards[i] = newShard()
	}
	e.shards.Store(&shards)
	e.numShards.Store(n)
	return e
}

func (e *Engine) Get(id string) (*Entry, bool) {
	e.resize.RLock()
	defer e.resize.RUnlock()

	shard := e.shardFor(id)
	shard.mu.RLock()
	entry, ok := shard.data[id]
	shard.mu.RUnlock()
	return entry, ok
}

// PutIfAbsent stores entry under id unless the id is taken. It returns the
// entry that ends up stored and whether it was the given one.
func (e *Engine) PutIfAbsent(id string, entry *Entry) (*Entry, bool) {
	e.resize.RLock()
	shard := e.shardFor(id)
	shard.mu.Lock()
	if existing, ok := shard.data[id]; ok {
		shard.mu.Unlock()
		e.resize.RUnlock()
		return existing, false
	}
	shard.data[id] = entry
	e.countKeys.Add(1)
	shard.mu.Unlock()
	e.resize.RUnlock()

	e.maybeScale()
	return entry, true
}

func (e *Engine) Delete(id string) bool {
	e.resize.RLock()
	defer e.resize.RUnlock()

	shard := e.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.data[id]; !ok {
		return false
	}
	delete(shard.data, id)
	e.countKeys.Add(-1)
	return true
}

func (e *Engine) Len() int {
	return int(e.countKeys.Load())
}

func (e *Engine) NumShards() int {
	return int(e.numShards.Load())
}

// Keys returns every document id in ascending order.
func (e *Engine) Keys() []string {
	e.resize.RLock()
	defer e.resize.RUnlock()

	keys := make([]string, 0, e.countKeys.Load())
	for _, shard := range *e.shards.Load() {
		shard.mu.RLock()
		for k := range shard.data {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// shardFor must be called with resize held.
func (e *Engine) shardFor(id string) *Shard {
	idx := hashKey(id) & (e.numShards.Load() - 1)
	return (*e.shards.Load())[idx]
}

func (e *Engine) maybeScale() {
	if e.countKeys.Load()/int64(e.numShards.Load()) <= e.threshold {
		return
	}
	if e.growing.CompareAndSwap(false, true) {
		go func() {
			defer e.growing.Store(false)
			e.growShards()
		}()
	}
}

func (e *Engine) growShards() {
	e.resize.Lock()
	defer e.resize.Unlock()

	current := e.numShards.Load()
	if e.countKeys.Load()/int64(current) <= e.threshold {
		return
	}

	newCount := current * 2
	newArr := make([]*Shard, newCount)
	for i := range newArr {
		newArr[i] = newShard()
	}
	for _, old := range *e.shards.Load() {
		for k, v := range old.data {
			newArr[hashKey(k)&(newCount-1)].data[k] = v
		}
	}

	e.shards.Store(&newArr)
	e.numShards.Store(newCount)
	slog.Info("scaled document shards", "shards", newCount, "documents", e.countKeys.Load())
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
