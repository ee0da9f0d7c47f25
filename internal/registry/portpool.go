package registry

import (
	"fmt"
	"sync"
)

// PortPool hands out ports from a contiguous range [base, base+count).
// Allocation always returns the smallest free port so restarted backends
// reuse the low end of the range first.
type PortPool struct {
	mu    sync.Mutex
	base  int
	count int
	used  map[int]bool
}

func NewPortPool(base, count int) *PortPool {
	return &PortPool{
		base:  base,
		count: count,
		used:  make(map[int]bool, count),
	}
}

// Allocate returns the smallest unused port, or an error on exhaustion.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.base; port < p.base+p.count; port++ {
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("port pool exhausted (%d-%d)", p.base, p.base+p.count-1)
}

// Release marks a port free. Releasing an unallocated port is a no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

// InUse returns the number of allocated ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
