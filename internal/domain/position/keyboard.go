package position

import "sync"

// KeyEvent is a raw key-down or key-up from the display.
type KeyEvent struct {
	Key  string `json:"key"`
	Down bool   `json:"down"`
}

// Keyboard fans raw key events out to listeners.
type Keyboard struct {
	mu        sync.RWMutex
	listeners map[uint64]func(KeyEvent) bool
	next      uint64
}

// NewKeyboard creates an empty keyboard hub
func NewKeyboard() *Keyboard {
	return &Keyboard{listeners: make(map[uint64]func(KeyEvent) bool)}
}

// Listen registers fn. fn returns true when it consumed the key, meaning the
// display should suppress the key's default behavior. The returned func removes
// the listener and may be called more than once.
func (k *Keyboard) Listen(fn func(KeyEvent) bool) (remove func()) {
	k.mu.Lock()
	id := k.next
	k.next++
	k.listeners[id] = fn
	k.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.listeners, id)
			k.mu.Unlock()
		})
	}
}

// Dispatch delivers ev to every listener and reports whether any consumed it.
func (k *Keyboard) Dispatch(ev KeyEvent) bool {
	k.mu.RLock()
	fns := make([]func(KeyEvent) bool, 0, len(k.listeners))
	for _, fn := range k.listeners {
		fns = append(fns, fn)
	}
	k.mu.RUnlock()

	consumed := false
	for _, fn := range fns {
		if fn(ev) {
			consumed = true
		}
	}
	return consumed
}

// ListenerCount returns the number of registered listeners
func (k *Keyboard) ListenerCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.listeners)
}

// Directions a movement key steers.
type direction int

const (
	north direction = iota
	south
	east
	west
)

var movementKeys = map[string]direction{
	"ArrowUp":    north,
	"w":          north,
	"ArrowDown":  south,
	"s":          south,
	"ArrowRight": east,
	"d":          east,
	"ArrowLeft":  west,
	"a":          west,
}

// IsMovementKey reports whether key steers the simulated source
func IsMovementKey(key string) bool {
	_, ok := movementKeys[key]
	return ok
}

// MovementKeys lists the keys the simulated source captures
func MovementKeys() []string {
	return []string{"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "w", "a", "s", "d"}
}
