package benchmarks

import (
	"sync/atomic"

	"sampler"
)

// ChanBuffer is the buffered-channel rendition of a bounded non-blocking
// sample queue. Offer maps onto a select-default send, the fastest admission
// gate the standard library offers. Selective harvest is where the rendition
// breaks down: a channel only releases items from the front, so Harvest must
// drain everything and re-send what it wants to keep. A producer can fill a
// freed slot before the re-send lands, and the survivor is dropped; Lost
// counts those drops.
type ChanBuffer struct {
	ch   chan sampler.Sample
	lost atomic.Int64
}

func NewChanBuffer(capacity int64) *ChanBuffer {
	return &ChanBuffer{ch: make(chan sampler.Sample, capacity)}
}

func (c *ChanBuffer) Offer(s sampler.Sample) bool {
	select {
	case c.ch <- s:
		return true
	default:
		return false
	}
}

// Harvest drains the buffered samples, returns those matching partition, and
// re-sends the rest. Single harvester only.
func (c *ChanBuffer) Harvest(partition string) []sampler.Sample {
	if partition == "" {
		return nil
	}
	var out []sampler.Sample
	for n := len(c.ch); n > 0; n-- {
		select {
		case s := <-c.ch:
			if s.PartitionKey() == partition {
				out = append(out, s)
				continue
			}
			select {
			case c.ch <- s:
			default:
				c.lost.Add(1)
			}
		default:
			return out
		}
	}
	return out
}

func (c *ChanBuffer) Pending() int64 { return int64(len(c.ch)) }

func (c *ChanBuffer) Lost() int64 { return c.lost.Load() }
