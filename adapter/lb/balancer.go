// Package lb dispatches packets from the reader into fast path shards
// by deterministic five-tuple hashing.
package lb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
	"github.com/forest33/dpipe/pkg/queue"
)

const popTimeout = 100 * time.Millisecond

// Balancer owns an input queue and forwards each packet to one of its
// fast path queues. The same hash drives both dispatch stages, so the
// choice is stable for the lifetime of a flow.
type Balancer struct {
	id       int
	log      *logger.Logger
	queue    *queue.Queue[*entity.PacketJob]
	fpQueues []*queue.Queue[*entity.PacketJob]

	wg sync.WaitGroup

	received   atomic.Uint64
	dispatched atomic.Uint64
	perFP      []uint64 // owner-only
}

// Stats per-balancer counters; PerFP is indexed by local shard.
type Stats struct {
	Received   uint64
	Dispatched uint64
	PerFP      []uint64
}

func New(id int, capacity int, log *logger.Logger, fpQueues []*queue.Queue[*entity.PacketJob]) *Balancer {
	return &Balancer{
		id:       id,
		log:      log.Duplicate(log.With().Str("layer", "lb").Int("id", id).Logger()),
		queue:    queue.New[*entity.PacketJob](capacity),
		fpQueues: fpQueues,
		perFP:    make([]uint64, len(fpQueues)),
	}
}

// Queue the balancer's input queue; the reader pushes here.
func (b *Balancer) Queue() *queue.Queue[*entity.PacketJob] {
	return b.queue
}

func (b *Balancer) Start() {
	b.wg.Add(1)
	go b.run()
	b.log.Debug().Int("fps", len(b.fpQueues)).Msg("started")
}

// Shutdown closes the input queue; the balancer drains it and exits.
func (b *Balancer) Shutdown() {
	b.queue.Shutdown()
}

func (b *Balancer) Join() {
	b.wg.Wait()
	b.log.Debug().Uint64("dispatched", b.dispatched.Load()).Msg("stopped")
}

func (b *Balancer) run() {
	defer b.wg.Done()

	for {
		job, ok := b.queue.PopTimeout(popTimeout)
		if !ok {
			if b.queue.IsShutdown() && b.queue.Empty() {
				return
			}
			continue
		}

		b.received.Add(1)

		idx := int(job.Tuple.Hash() % uint64(len(b.fpQueues)))
		b.fpQueues[idx].Push(job)

		b.dispatched.Add(1)
		b.perFP[idx]++
	}
}

func (b *Balancer) Stats() Stats {
	return Stats{
		Received:   b.received.Load(),
		Dispatched: b.dispatched.Load(),
		PerFP:      append([]uint64(nil), b.perFP...),
	}
}
