// Package usecase wires the pipeline stages together and drives a
// capture file through them.
package usecase

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/forest33/dpipe/adapter/fastpath"
	"github.com/forest33/dpipe/adapter/lb"
	"github.com/forest33/dpipe/adapter/packet"
	"github.com/forest33/dpipe/adapter/pcap"
	"github.com/forest33/dpipe/adapter/rules"
	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
	"github.com/forest33/dpipe/pkg/metrics"
	"github.com/forest33/dpipe/pkg/queue"
)

const (
	writerPopTimeout = 100 * time.Millisecond
	drainPause       = 500 * time.Millisecond
	statusInterval   = 10000
)

// Engine builds the shard topology, runs a capture through it and
// tears everything down in order. One reader feeds N load balancers;
// each balancer feeds its own M fast path workers; forwarded packets
// converge on a single writer.
type Engine struct {
	cfg     *entity.Config
	log     *logger.Logger
	runID   string
	rules   *rules.Store
	parser  *packet.Parser
	metrics *metrics.Collector

	stats entity.EngineStats

	balancers []*lb.Balancer
	workers   []*fastpath.Worker

	writer      *pcap.Writer
	writerQueue *queue.Queue[*entity.PacketJob]
	writerWG    sync.WaitGroup

	running atomic.Bool
	stopped sync.Once
}

func NewEngine(cfg *entity.Config, log *logger.Logger, ruleStore *rules.Store, collector *metrics.Collector) (*Engine, error) {
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline configuration")
	}

	e := &Engine{
		cfg:     cfg,
		log:     log.Duplicate(log.With().Str("layer", "engine").Logger()),
		runID:   uuid.New().String(),
		rules:   ruleStore,
		parser:  packet.New(),
		metrics: collector,
	}
	e.build()

	return e, nil
}

// Rules the engine's rule store, for the command line front end.
func (e *Engine) Rules() *rules.Store {
	return e.rules
}

// Stats the engine's global counters.
func (e *Engine) Stats() *entity.EngineStats {
	return &e.stats
}

// build creates workers and balancers and wires each balancer to its
// slice of fast path queues.
func (e *Engine) build() {
	pipe := e.cfg.Pipeline
	totalFPs := pipe.LoadBalancers * pipe.FastPathsPerLB

	fpCfg := &fastpath.Config{
		QueueCapacity:  pipe.QueueCapacity,
		MaxConnections: pipe.MaxConnections,
		StaleTimeout:   time.Duration(pipe.StaleTimeout) * time.Second,
		Tracing:        e.cfg.Tracing.Verdicts,
		Metrics:        e.metrics,
	}

	e.workers = make([]*fastpath.Worker, 0, totalFPs)
	for i := 0; i < totalFPs; i++ {
		e.workers = append(e.workers, fastpath.NewWorker(i, fpCfg, e.log, e.rules, e))
	}

	e.balancers = make([]*lb.Balancer, 0, pipe.LoadBalancers)
	for i := 0; i < pipe.LoadBalancers; i++ {
		fpQueues := make([]*queue.Queue[*entity.PacketJob], 0, pipe.FastPathsPerLB)
		for j := 0; j < pipe.FastPathsPerLB; j++ {
			fpQueues = append(fpQueues, e.workers[i*pipe.FastPathsPerLB+j].Queue())
		}
		e.balancers = append(e.balancers, lb.New(i, pipe.QueueCapacity, e.log, fpQueues))
	}

	e.writerQueue = queue.New[*entity.PacketJob](pipe.QueueCapacity)

	e.log.Info().
		Str("run_id", e.runID).
		Int("lbs", pipe.LoadBalancers).
		Int("fps_per_lb", pipe.FastPathsPerLB).
		Int("total_fps", totalFPs).
		Msg("pipeline built")
}

// OnVerdict implements entity.VerdictSink. Forwarded packets go to the
// writer queue; drops are counted and vanish.
func (e *Engine) OnVerdict(job *entity.PacketJob, action entity.PacketAction) {
	if action == entity.ActionDrop {
		e.stats.DroppedPackets.Add(1)
		return
	}
	e.stats.ForwardedPackets.Add(1)
	e.metrics.IncForwarded()
	e.writerQueue.Push(job)
}

// ProcessFile runs the whole capture through the pipeline and shuts
// down when the reader hits EOF. Only open and format errors are
// fatal; everything below that boundary recovers locally.
func (e *Engine) ProcessFile(inputPath, outputPath string) error {
	if !e.running.CompareAndSwap(false, true) {
		return entity.ErrEngineRunning
	}

	reader, err := pcap.Open(inputPath)
	if err != nil {
		e.running.Store(false)
		return err
	}
	defer reader.Close()

	e.writer, err = pcap.Create(outputPath, reader.Snaplen())
	if err != nil {
		e.running.Store(false)
		return err
	}

	e.log.Info().Str("input", inputPath).Str("output", outputPath).Msg("processing capture")

	for _, w := range e.workers {
		w.Start()
	}
	for _, b := range e.balancers {
		b.Start()
	}
	e.writerWG.Add(1)
	go e.writerLoop()

	readErr := e.readLoop(reader)

	e.Stop()

	if readErr != nil {
		return readErr
	}
	return nil
}

// readLoop pulls records until EOF, parses them and pushes TCP/UDP
// packets into the balancer selected by the five-tuple hash.
func (e *Engine) readLoop(reader *pcap.Reader) error {
	numLBs := uint64(len(e.balancers))
	var packetID uint32

	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.log.Error().Err(err).Msg("fatal capture read error")
			return err
		}

		parsed, err := e.parser.Parse(raw.Data)
		if err != nil || !parsed.HasIP || (!parsed.HasTCP && !parsed.HasUDP) {
			e.stats.SkippedPackets.Add(1)
			continue
		}

		job := &entity.PacketJob{
			ID:            packetID,
			Tuple:         packet.Tuple(parsed),
			Data:          raw.Data,
			TCPFlags:      parsed.TCPFlags,
			PayloadOffset: parsed.PayloadOffset,
			PayloadLength: parsed.PayloadLength,
			TsSec:         raw.TsSec,
			TsUsec:        raw.TsUsec,
			OrigLen:       raw.OrigLen,
		}
		packetID++

		e.stats.TotalPackets.Add(1)
		e.stats.TotalBytes.Add(uint64(len(raw.Data)))
		switch {
		case parsed.HasTCP:
			e.stats.TCPPackets.Add(1)
		case parsed.HasUDP:
			e.stats.UDPPackets.Add(1)
		}
		e.metrics.IncPacket(len(raw.Data), parsed.HasTCP, parsed.HasUDP)

		if e.cfg.Tracing.Packets {
			e.log.Debug().Uint32("id", job.ID).Str("flow", job.Tuple.String()).Msg("packet")
		}
		if packetID%statusInterval == 0 {
			e.log.Info().
				Uint64("packets", e.stats.TotalPackets.Load()).
				Uint64("forwarded", e.stats.ForwardedPackets.Load()).
				Uint64("dropped", e.stats.DroppedPackets.Load()).
				Msg("status")
		}

		e.balancers[job.Tuple.Hash()%numLBs].Queue().Push(job)
	}

	e.log.Info().Uint32("packets", packetID).Msg("finished reading capture")
	return nil
}

// writerLoop serializes every forwarded packet into the output file.
func (e *Engine) writerLoop() {
	defer e.writerWG.Done()

	for {
		job, ok := e.writerQueue.PopTimeout(writerPopTimeout)
		if !ok {
			if e.writerQueue.IsShutdown() && e.writerQueue.Empty() {
				return
			}
			continue
		}

		if err := e.writer.WritePacket(job.TsSec, job.TsUsec, job.OrigLen, job.Data); err != nil {
			e.stats.WriteErrors.Add(1)
			e.log.Error().Err(err).Msg("failed to write packet")
			continue
		}
		e.stats.WriteSuccesses.Add(1)
	}
}

// Stop drains and tears the pipeline down in dependency order:
// balancers first, then fast path workers, then the writer. Each queue
// is drained by its consumer before the consumer exits, so nothing
// read from the capture is lost. Idempotent.
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		time.Sleep(drainPause)

		for _, b := range e.balancers {
			b.Shutdown()
		}
		for _, b := range e.balancers {
			b.Join()
		}

		for _, w := range e.workers {
			w.Shutdown()
		}
		for _, w := range e.workers {
			w.Join()
		}

		e.writerQueue.Shutdown()
		e.writerWG.Wait()

		if e.writer != nil {
			if err := e.writer.Close(); err != nil {
				e.log.Error().Err(err).Msg("failed to close output capture")
			}
		}

		e.running.Store(false)
		e.log.Info().Msg("pipeline stopped")
	})
}
