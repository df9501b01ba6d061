package position

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLogger = logger.NewNop()

// fakeLocator plays the platform location capability
type fakeLocator struct {
	mu           sync.Mutex
	current      geo.Coordinate
	currentErr   error
	reads        int
	watchErr     error
	watches      int
	watchCancels int
	fixes        chan Fix
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{fixes: make(chan Fix)}
}

func (f *fakeLocator) set(c geo.Coordinate, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current, f.currentErr = c, err
}

func (f *fakeLocator) CurrentPosition(ctx context.Context) (geo.Coordinate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.current, f.currentErr
}

func (f *fakeLocator) Watch(ctx context.Context) (<-chan Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watches++

	out := make(chan Fix)
	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			f.watchCancels++
			f.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case fix := <-f.fixes:
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// push fires the platform callback; false means nobody is watching any more
func (f *fakeLocator) push(fix Fix) bool {
	select {
	case f.fixes <- fix:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func (f *fakeLocator) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCancels
}

func (f *fakeLocator) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// collector records emitted updates
type collector struct {
	ch chan Update
}

func newCollector() *collector {
	return &collector{ch: make(chan Update, 1024)}
}

func (c *collector) emit(u Update) {
	c.ch <- u
}

func (c *collector) next(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an update")
		return Update{}
	}
}

func (c *collector) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case u := <-c.ch:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(wait):
	}
}

func (c *collector) drain() []Update {
	var out []Update
	for {
		select {
		case u := <-c.ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

// manualTicker is advanced explicitly by the test
type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func (m *manualTicker) tick(t *testing.T, ts time.Time) {
	t.Helper()
	select {
	case m.ch <- ts:
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

// tickers hands every ticker a source creates back to the test
type tickers struct {
	created chan *manualTicker
}

func newTickers() *tickers {
	return &tickers{created: make(chan *manualTicker, 4)}
}

func (f *tickers) New(time.Duration) Ticker {
	tk := &manualTicker{ch: make(chan time.Time)}
	f.created <- tk
	return tk
}

func (f *tickers) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-f.created:
		return tk
	case <-time.After(time.Second):
		t.Fatal("source never created a ticker")
		return nil
	}
}
