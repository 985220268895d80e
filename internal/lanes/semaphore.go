package lanes

import (
	"context"
	"sync"
	"time"
)

type waiter struct {
	id         uint64
	lane       Lane
	enqueuedAt time.Time
	grant      chan struct{} // buffered(1); manager never blocks sending
}

// Semaphore is a bounded worker pool with three FIFO waiter queues
// (interactive/scheduled/maintenance) and priority-aware grant selection,
// per spec.md §4.4. All state is owned by a single manager goroutine;
// callers only ever touch channels.
type Semaphore struct {
	cfg Config

	registerCh chan *waiter
	cancelCh   chan uint64
	releaseCh  chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once

	// inUse/queues/consecutiveInteractive/nextID are owned exclusively by run().
	inUse                  int
	queues                 map[Lane][]*waiter
	consecutiveInteractive int
	nextID                 uint64
}

// New starts a semaphore's manager goroutine and returns a handle. Call
// Close to stop the goroutine during shutdown.
func New(cfg Config) *Semaphore {
	cfg = cfg.withDefaults()
	s := &Semaphore{
		cfg:        cfg,
		registerCh: make(chan *waiter),
		cancelCh:   make(chan uint64),
		releaseCh:  make(chan struct{}),
		stopCh:     make(chan struct{}),
		queues: map[Lane][]*waiter{
			LaneInteractive: nil,
			LaneScheduled:   nil,
			LaneMaintenance: nil,
		},
	}
	go s.run()
	return s
}

// Close stops the manager goroutine. Any blocked Acquire callers will
// observe their context's cancellation instead (Close does not cancel
// in-flight waiters itself — callers own their contexts).
func (s *Semaphore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Acquire blocks until a permit is granted for lane or ctx is cancelled.
// A cancelled waiter never consumes a permit.
func (s *Semaphore) Acquire(ctx context.Context, lane Lane) error {
	w := &waiter{lane: lane, enqueuedAt: time.Now(), grant: make(chan struct{}, 1)}
	select {
	case s.registerCh <- w:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return context.Canceled
	}

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		// Ask the manager to remove us. If a grant raced in concurrently,
		// drain it and release immediately so the permit isn't leaked.
		select {
		case s.cancelCh <- w.id:
		case <-s.stopCh:
		}
		select {
		case <-w.grant:
			s.Release()
		default:
		}
		return ctx.Err()
	case <-s.stopCh:
		return context.Canceled
	}
}

// Release returns one permit to the pool.
func (s *Semaphore) Release() {
	select {
	case s.releaseCh <- struct{}{}:
	case <-s.stopCh:
	}
}

func (s *Semaphore) run() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case w := <-s.registerCh:
			s.nextID++
			w.id = s.nextID
			s.queues[w.lane] = append(s.queues[w.lane], w)
			s.dispatch()
		case id := <-s.cancelCh:
			s.removeWaiter(id)
			s.dispatch()
		case <-s.releaseCh:
			if s.inUse > 0 {
				s.inUse--
			}
			s.dispatch()
		case <-ticker.C:
			s.dispatch() // re-evaluate the starvation guard on a wall-clock cadence
		case <-s.stopCh:
			return
		}
	}
}

func (s *Semaphore) removeWaiter(id uint64) {
	for lane, q := range s.queues {
		for i, w := range q {
			if w.id == id {
				s.queues[lane] = append(q[:i], q[i+1:]...)
				return
			}
		}
	}
}

func (s *Semaphore) headOf(lane Lane) *waiter {
	q := s.queues[lane]
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

func (s *Semaphore) popHead(lane Lane) *waiter {
	q := s.queues[lane]
	if len(q) == 0 {
		return nil
	}
	w := q[0]
	s.queues[lane] = q[1:]
	return w
}

// chooseLane implements the grant-order rule of spec.md §4.4: starvation
// guard first, then the consecutive-interactive cap, then plain priority.
func (s *Semaphore) chooseLane() (Lane, bool) {
	now := time.Now()

	var starvedLane Lane
	starvedWait := time.Duration(-1)
	for _, lane := range []Lane{LaneScheduled, LaneMaintenance} {
		if h := s.headOf(lane); h != nil {
			wait := now.Sub(h.enqueuedAt)
			if wait >= s.cfg.LaneStarvation && wait > starvedWait {
				starvedWait = wait
				starvedLane = lane
			}
		}
	}
	if starvedWait >= 0 {
		return starvedLane, true
	}

	if s.consecutiveInteractive >= s.cfg.MaxConsecutiveInteractive {
		scheduledHead := s.headOf(LaneScheduled)
		maintHead := s.headOf(LaneMaintenance)
		if scheduledHead != nil || maintHead != nil {
			if scheduledHead != nil && (maintHead == nil || scheduledHead.enqueuedAt.Before(maintHead.enqueuedAt)) {
				return LaneScheduled, true
			}
			return LaneMaintenance, true
		}
	}

	for _, lane := range []Lane{LaneInteractive, LaneScheduled, LaneMaintenance} {
		if s.headOf(lane) != nil {
			return lane, true
		}
	}
	return 0, false
}

func (s *Semaphore) dispatch() {
	for s.inUse < s.cfg.Capacity {
		lane, ok := s.chooseLane()
		if !ok {
			return
		}
		w := s.popHead(lane)
		if w == nil {
			continue
		}
		s.inUse++
		if lane == LaneInteractive {
			s.consecutiveInteractive++
		} else {
			s.consecutiveInteractive = 0
		}
		w.grant <- struct{}{}
	}
}
