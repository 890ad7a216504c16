package probe

import (
	"fmt"
	"sync"
)

// held tracks which probes have an open session in this process. USB claims
// already exclude other processes; this catches a second open from within
// the same one before it reaches the driver.
var held = struct {
	sync.Mutex
	keys map[string]struct{}
}{keys: make(map[string]struct{})}

// acquire marks key as held and returns the function that releases it. The
// release function is safe to call more than once.
func acquire(key string) (func(), error) {
	held.Lock()
	defer held.Unlock()

	if _, busy := held.keys[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrProbeBusy, key)
	}
	held.keys[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			held.Lock()
			delete(held.keys, key)
			held.Unlock()
		})
	}, nil
}
