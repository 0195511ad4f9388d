package minimization

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DevicePool serializes minimizations per GPU device. Each device admits one holder at a time.
type DevicePool struct {
	devices []int
	sems    []*semaphore.Weighted
	next    atomic.Uint64
}

// NewDevicePool returns a pool over the given device indices. An empty list means device 0.
func NewDevicePool(devices []int) *DevicePool {
	if len(devices) == 0 {
		devices = []int{0}
	}
	p := &DevicePool{
		devices: append([]int(nil), devices...),
		sems:    make([]*semaphore.Weighted, len(devices)),
	}
	for i := range p.sems {
		p.sems[i] = semaphore.NewWeighted(1)
	}
	return p
}

// Size returns the number of devices in the pool.
func (p *DevicePool) Size() int {
	return len(p.devices)
}

// Acquire reserves a device. It takes the first idle device starting from a rotating
// offset, and otherwise waits for the device at that offset. The returned release
// function must be called exactly once.
func (p *DevicePool) Acquire(ctx context.Context) (int, func(), error) {
	n := len(p.sems)
	start := int((p.next.Add(1) - 1) % uint64(n))
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if p.sems[i].TryAcquire(1) {
			return p.devices[i], p.releaser(i), nil
		}
	}
	if err := p.sems[start].Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	return p.devices[start], p.releaser(start), nil
}

func (p *DevicePool) releaser(i int) func() {
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			p.sems[i].Release(1)
		}
	}
}
