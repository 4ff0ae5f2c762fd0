package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Callbacks run synchronously inside Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	tickers map[int]*fakeTicker
}

type fakeTicker struct {
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

func NewFake(start time.Time) *Fake {
	return &Fake{
		now:     start,
		tickers: make(map[int]*fakeTicker),
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Tick(interval time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.tickers[id] = &fakeTicker{
		id:       id,
		interval: interval,
		next:     f.now.Add(interval),
		fn:       fn,
	}

	return func() {
		f.mu.Lock()
		delete(f.tickers, id)
		f.mu.Unlock()
	}
}

// Active reports how many periodic callbacks are still registered.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Advance moves time forward by d, firing every due tick in time order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		due := f.nextDue(target)
		if due == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		f.mu.Unlock()

		fn()
	}
}

func (f *Fake) nextDue(target time.Time) *fakeTicker {
	candidates := make([]*fakeTicker, 0, len(f.tickers))
	for _, t := range f.tickers {
		if !t.next.After(target) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].next.Equal(candidates[j].next) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].next.Before(candidates[j].next)
	})
	return candidates[0]
}
