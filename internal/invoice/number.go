package invoice

import (
	"fmt"
	"sync"
	"time"
)

// numberSource hands out invoice numbers of the form INV-<unix-ms>.
// Millisecond timestamps can collide under load, so the source never
// reissues a value: a second request inside the same millisecond advances
// past the last issued one.
type numberSource struct {
	mu   sync.Mutex
	last int64
}

func (s *numberSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms

	return fmt.Sprintf("INV-%d", ms)
}
