package spatial

import "sync"

// seqDetectThreshold is the pending-move count below which the detect pass
// runs inline on the calling goroutine; handing work to the pool costs more
// than the work itself under it.
const seqDetectThreshold = 64

// detectJob is one contiguous chunk of the pending-move list. slot selects
// the worker scratch the verdicts land in, so concatenating scratches in
// slot order reproduces submission order no matter which worker ran which
// chunk. That ordering is what keeps Commit bit-deterministic across
// worker counts and schedules.
type detectJob struct {
	slot   int
	lo, hi int32
}

// detectPool runs the read-only placement pass of Commit on a fixed set of
// persistent workers. Workers outlive ticks; only jobs flow per Commit.
type detectPool struct {
	idx     *Index
	workers int
	jobs    chan detectJob
	done    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func newDetectPool(idx *Index, workers int) *detectPool {
	p := &detectPool{
		idx:     idx,
		workers: workers,
		jobs:    make(chan detectJob, workers),
		done:    make(chan struct{}, workers),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *detectPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.idx.detectRange(job.slot, job.lo, job.hi)
		p.done <- struct{}{}
	}
}

// run fans the first n pending moves out across the workers in contiguous
// chunks and waits for completion. Returns how many scratch slots hold
// verdicts. Small batches and stopped pools run inline.
func (p *detectPool) run(n int) (used int) {
	if n <= 0 {
		return 0
	}
	if p.stopped || p.workers <= 1 || n <= seqDetectThreshold {
		p.idx.detectRange(0, 0, int32(n))
		return 1
	}
	chunk := (n + p.workers - 1) / p.workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		p.jobs <- detectJob{slot: used, lo: int32(lo), hi: int32(hi)}
		used++
	}
	for i := 0; i < used; i++ {
		<-p.done
	}
	return used
}

// stop shuts the workers down. Commits after stop detect inline; the pool
// is not restartable.
func (p *detectPool) stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.jobs)
	p.wg.Wait()
}
