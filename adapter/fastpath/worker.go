package fastpath

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/forest33/dpipe/adapter/fingerprint"
	"github.com/forest33/dpipe/adapter/rules"
	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
	"github.com/forest33/dpipe/pkg/metrics"
	"github.com/forest33/dpipe/pkg/queue"
)

const (
	popTimeout       = 100 * time.Millisecond
	sniMinPayloadLen = 50

	portHTTP  = 80
	portHTTPS = 443
	portDNS   = 53
)

// Config fast path worker settings.
type Config struct {
	QueueCapacity  int
	MaxConnections int
	StaleTimeout   time.Duration
	Tracing        bool
	Metrics        *metrics.Collector
}

// Worker consumes packets for its shard, tracks flows and emits a
// verdict for every packet through the sink.
type Worker struct {
	id    int
	cfg   *Config
	log   *logger.Logger
	queue *queue.Queue[*entity.PacketJob]
	table *Table
	rules *rules.Store
	sink  entity.VerdictSink

	wg sync.WaitGroup

	processed          atomic.Uint64
	forwarded          atomic.Uint64
	dropped            atomic.Uint64
	sniExtractions     atomic.Uint64
	classificationHits atomic.Uint64
	blockedByKind      [4]atomic.Uint64
}

// WorkerStats point-in-time counters of one worker. BlockedByKind is
// indexed by entity.BlockKind.
type WorkerStats struct {
	Processed          uint64
	Forwarded          uint64
	Dropped            uint64
	SNIExtractions     uint64
	ClassificationHits uint64
	BlockedByKind      [4]uint64
	ActiveFlows        int
}

func NewWorker(id int, cfg *Config, log *logger.Logger, ruleStore *rules.Store, sink entity.VerdictSink) *Worker {
	return &Worker{
		id:    id,
		cfg:   cfg,
		log:   log.Duplicate(log.With().Str("layer", "fp").Int("id", id).Logger()),
		queue: queue.New[*entity.PacketJob](cfg.QueueCapacity),
		table: NewTable(cfg.MaxConnections),
		rules: ruleStore,
		sink:  sink,
	}
}

// Queue the worker's input queue; the load balancer pushes here.
func (w *Worker) Queue() *queue.Queue[*entity.PacketJob] {
	return w.queue
}

// Table exposed for reporting; read it only after Join.
func (w *Worker) Table() *Table {
	return w.table
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Debug().Msg("started")
}

// Shutdown closes the input queue; the worker drains it and exits.
func (w *Worker) Shutdown() {
	w.queue.Shutdown()
}

func (w *Worker) Join() {
	w.wg.Wait()
	w.log.Debug().Uint64("processed", w.processed.Load()).Msg("stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		job, ok := w.queue.PopTimeout(popTimeout)
		if !ok {
			if w.queue.IsShutdown() && w.queue.Empty() {
				return
			}
			w.table.CleanupStale(w.cfg.StaleTimeout)
			continue
		}

		w.processed.Add(1)

		action := w.processPacket(job)
		w.sink.OnVerdict(job, action)

		if action == entity.ActionDrop {
			w.dropped.Add(1)
		} else {
			w.forwarded.Add(1)
		}
	}
}

func (w *Worker) processPacket(job *entity.PacketJob) entity.PacketAction {
	flow := w.table.GetOrCreate(job.Tuple)

	// Direction accounting treats every packet as outbound: the input
	// is a single-sided user capture.
	w.table.Update(flow, len(job.Data), true)

	if job.Tuple.Protocol == entity.IPProtocolTCP {
		w.updateTCPState(flow, job.TCPFlags)
	}

	if flow.State == entity.StateBlocked {
		return entity.ActionDrop
	}

	if flow.State != entity.StateClassified && job.PayloadLength > 0 {
		w.inspectPayload(job, flow)
	}

	return w.checkRules(job, flow)
}

// inspectPayload tries the fingerprinters in order; the port fallback
// assigns an app without marking the flow classified, so a later
// packet with a better signal can still upgrade it.
func (w *Worker) inspectPayload(job *entity.PacketJob, flow *entity.Flow) {
	payload := job.Payload()
	if payload == nil {
		return
	}

	if job.Tuple.DstPort == portHTTPS || job.PayloadLength >= sniMinPayloadLen {
		if sni, ok := fingerprint.ExtractSNI(payload); ok {
			w.sniExtractions.Add(1)
			w.classify(flow, entity.AppFromHost(sni), sni)
			return
		}
	}

	if job.Tuple.DstPort == portHTTP {
		if host, ok := fingerprint.ExtractHTTPHost(payload); ok {
			w.classify(flow, entity.AppFromHost(host), host)
			return
		}
	}

	if job.Tuple.DstPort == portDNS || job.Tuple.SrcPort == portDNS {
		if name, ok := fingerprint.ExtractDNSQuery(payload); ok {
			w.table.Classify(flow, entity.AppDNS, name)
			return
		}
	}

	if job.Tuple.Protocol == entity.IPProtocolUDP && job.Tuple.DstPort == portHTTPS {
		if sni, ok := fingerprint.ExtractQUICSNI(payload); ok {
			w.sniExtractions.Add(1)
			app := entity.AppFromHost(sni)
			if app == entity.AppHTTPS {
				app = entity.AppQUIC
			}
			w.classify(flow, app, sni)
			return
		}
	}

	switch job.Tuple.DstPort {
	case portHTTP:
		if flow.App == entity.AppUnknown {
			flow.App = entity.AppHTTP
		}
	case portHTTPS:
		if flow.App == entity.AppUnknown {
			flow.App = entity.AppHTTPS
		}
	}
}

func (w *Worker) classify(flow *entity.Flow, app entity.AppType, host string) {
	w.table.Classify(flow, app, host)
	if app != entity.AppUnknown && app != entity.AppHTTPS && app != entity.AppHTTP {
		w.classificationHits.Add(1)
	}
	if w.cfg.Tracing {
		w.log.Debug().Str("flow", flow.Tuple.String()).Str("app", app.String()).Str("host", host).Msg("classified")
	}
}

func (w *Worker) checkRules(job *entity.PacketJob, flow *entity.Flow) entity.PacketAction {
	reason, blocked := w.rules.ShouldBlock(job.Tuple.SrcIP, job.Tuple.DstPort, flow.App, flow.SNI)
	if !blocked {
		return entity.ActionForward
	}

	w.log.Info().
		Str("flow", job.Tuple.String()).
		Str("kind", reason.Kind.String()).
		Str("detail", reason.Detail).
		Msg("blocked packet")

	w.blockedByKind[reason.Kind].Add(1)
	w.cfg.Metrics.IncDropped(reason.Kind.String())

	w.table.Block(flow)
	return entity.ActionDrop
}

// updateTCPState applies flag-driven transitions before classification
// and rule checks.
func (w *Worker) updateTCPState(flow *entity.Flow, flags uint8) {
	if flags&entity.TCPFlagSYN != 0 {
		if flags&entity.TCPFlagACK != 0 {
			flow.SynAckSeen = true
		} else {
			flow.SynSeen = true
		}
	}

	if flow.SynSeen && flow.SynAckSeen && flags&entity.TCPFlagACK != 0 {
		if flow.State == entity.StateNew {
			flow.State = entity.StateEstablished
		}
	}

	if flags&entity.TCPFlagFIN != 0 {
		flow.FinSeen = true
	}

	// A blocked flow stays blocked; closing it would send its next
	// packet through classification and the rules again.
	if flow.State == entity.StateBlocked {
		return
	}

	if flags&entity.TCPFlagRST != 0 {
		flow.State = entity.StateClosed
	}

	if flow.FinSeen && flags&entity.TCPFlagACK != 0 {
		flow.State = entity.StateClosed
	}
}

func (w *Worker) Stats() WorkerStats {
	st := WorkerStats{
		Processed:          w.processed.Load(),
		Forwarded:          w.forwarded.Load(),
		Dropped:            w.dropped.Load(),
		SNIExtractions:     w.sniExtractions.Load(),
		ClassificationHits: w.classificationHits.Load(),
		ActiveFlows:        w.table.Len(),
	}
	for i := range w.blockedByKind {
		st.BlockedByKind[i] = w.blockedByKind[i].Load()
	}
	return st
}
