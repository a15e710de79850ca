package thumbs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sonocloud/sonoviewer/internal/state"
)

// workerCount is the fixed concurrency cap for thumbnail acquisition.
const workerCount = 3

// StudyFetcher resolves a study to thumbnail bytes, nil on failure.
type StudyFetcher interface {
	Fetch(ctx context.Context, studyUID string) []byte
}

// Pool drains a shared queue of study identifiers with a fixed set of
// workers. A study is attempted at most once per session: a failure is
// remembered and suppresses re-attempts until Reset. Reset also discards
// any in-flight result, so a superseded search can never install a stale
// thumbnail.
type Pool struct {
	fetcher StudyFetcher
	store   *state.Store
	logger  *slog.Logger
	dir     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []string
	queued     map[string]bool
	inFlight   map[string]bool
	failed     map[string]bool
	handles    map[string]*Handle
	generation int
	tornDown   bool
}

// NewPool creates the pool and starts its workers. dir is where handle
// files are written; it must exist.
func NewPool(fetcher StudyFetcher, store *state.Store, logger *slog.Logger, dir string) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
		dir:      dir,
		ctx:      ctx,
		cancel:   cancel,
		queued:   map[string]bool{},
		inFlight: map[string]bool{},
		failed:   map[string]bool{},
		handles:  map[string]*Handle{},
	}
	p.cond = sync.NewCond(&p.mu)
	for range workerCount {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue adds studies to the shared queue. Studies already queued, in
// flight, installed or failed this session are skipped.
func (p *Pool) Enqueue(studyUIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tornDown {
		return
	}
	for _, uid := range studyUIDs {
		if uid == "" || p.queued[uid] || p.inFlight[uid] || p.failed[uid] {
			continue
		}
		if _, installed := p.handles[uid]; installed {
			continue
		}
		p.queued[uid] = true
		p.queue = append(p.queue, uid)
	}
	p.cond.Broadcast()
}

// Reset clears the queue, the in-flight markers and the failure memory
// for a fresh search. Results of fetches already in flight are discarded
// on completion; clearing the in-flight set means a re-enqueue of the
// same study is fetched again rather than skipped.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.queued = map[string]bool{}
	p.inFlight = map[string]bool{}
	p.failed = map[string]bool{}
	p.generation++
	for uid, handle := range p.handles {
		handle.Release()
		delete(p.handles, uid)
	}
}

// Close stops the workers and releases every installed handle. In-flight
// fetches are cancelled.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.tornDown {
		p.mu.Unlock()
		return
	}
	p.tornDown = true
	p.queue = nil
	p.queued = map[string]bool{}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for uid, handle := range p.handles {
		handle.Release()
		delete(p.handles, uid)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.tornDown {
			p.cond.Wait()
		}
		if p.tornDown {
			p.mu.Unlock()
			return
		}
		uid := p.queue[0]
		p.queue = p.queue[1:]
		delete(p.queued, uid)
		p.inFlight[uid] = true
		generation := p.generation
		p.mu.Unlock()

		data := p.fetcher.Fetch(p.ctx, uid)
		p.finish(uid, generation, data)
	}
}

// finish records one fetch outcome. A result from before the last Reset,
// after teardown, or for a study no longer in the result set is discarded.
func (p *Pool) finish(uid string, generation int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tornDown || generation != p.generation {
		// Reset already dropped this fetch's in-flight marker; a stale
		// finish must not clobber the marker of a re-enqueued fetch.
		return
	}
	delete(p.inFlight, uid)
	if data == nil {
		p.failed[uid] = true
		p.logger.Debug("thumbnail acquisition failed", "study", uid)
		return
	}

	handle, err := NewHandle(p.dir, data)
	if err != nil {
		p.failed[uid] = true
		p.logger.Warn("writing thumbnail failed", "study", uid, "err", err)
		return
	}
	if prior, ok := p.handles[uid]; ok {
		prior.Release()
		delete(p.handles, uid)
	}
	if !p.store.SetStudyThumbnail(uid, handle.URL()) {
		handle.Release()
		return
	}
	p.handles[uid] = handle
}

// Dir is the directory handle files are written to.
func (p *Pool) Dir() string { return p.dir }
