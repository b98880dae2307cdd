package tunnel

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.zx2c4.com/wireguard/tun"
)

// ImpairedDevice drops and delays packets in both directions: those the
// overlay writes to the device and those it reads from it. It is used for
// fault-injection testing only.
type ImpairedDevice struct {
	tun.Device
	loss    float64
	delay   time.Duration
	roll    func() float64
	dropped atomic.Uint64
}

// Impair wraps dev so that reads and writes are dropped with probability loss
// and delayed by delay. With no loss and no delay dev is returned unchanged.
func Impair(dev tun.Device, loss float64, delay time.Duration) tun.Device {
	if loss <= 0 && delay <= 0 {
		return dev
	}
	log.WithField("loss", loss).WithField("delay", delay).Warn("packet impairment enabled")
	return &ImpairedDevice{Device: dev, loss: loss, delay: delay, roll: rand.Float64}
}

// Write forwards the surviving packets after the configured delay. Dropped
// packets are reported as written.
func (d *ImpairedDevice) Write(bufs [][]byte, offset int) (int, error) {
	kept := bufs
	if d.loss > 0 {
		kept = make([][]byte, 0, len(bufs))
		for _, b := range bufs {
			if d.roll() < d.loss {
				d.dropped.Add(1)
				continue
			}
			kept = append(kept, b)
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if len(kept) == 0 {
		return len(bufs), nil
	}
	if _, err := d.Device.Write(kept, offset); err != nil {
		return 0, err
	}
	return len(bufs), nil
}

// Read returns the packets from the underlying device that survive the loss
// roll, compacted to the front of bufs, after the configured delay. It can
// return zero packets with a nil error when a whole batch is dropped.
func (d *ImpairedDevice) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	n, err := d.Device.Read(bufs, sizes, offset)
	if n == 0 {
		return 0, err
	}
	kept := n
	if d.loss > 0 {
		kept = 0
		for i := range n {
			if d.roll() < d.loss {
				d.dropped.Add(1)
				continue
			}
			if i != kept {
				copy(bufs[kept][offset:], bufs[i][offset:offset+sizes[i]])
				sizes[kept] = sizes[i]
			}
			kept++
		}
	}
	if kept > 0 && d.delay > 0 {
		time.Sleep(d.delay)
	}
	return kept, err
}

// Dropped returns the number of packets discarded so far.
func (d *ImpairedDevice) Dropped() uint64 {
	return d.dropped.Load()
}
