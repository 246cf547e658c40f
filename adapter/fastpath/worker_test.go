package fastpath

import (
	"sync"
	"testing"
	"time"

	"github.com/forest33/dpipe/adapter/rules"
	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
)

type captureSink struct {
	mu      sync.Mutex
	actions []entity.PacketAction
}

func (s *captureSink) OnVerdict(_ *entity.PacketJob, action entity.PacketAction) {
	s.mu.Lock()
	s.actions = append(s.actions, action)
	s.mu.Unlock()
}

func newTestWorker(sink entity.VerdictSink) (*Worker, *rules.Store) {
	log := logger.New(logger.Config{Level: "disabled"})
	store := rules.New(log)
	cfg := &Config{
		QueueCapacity:  100,
		MaxConnections: 1000,
		StaleTimeout:   300 * time.Second,
	}
	return NewWorker(0, cfg, log, store, sink), store
}

// tlsHello builds a ClientHello record for the given server name.
func tlsHello(sni string) []byte {
	name := []byte(sni)
	ext := []byte{0x00, 0x00, 0x00, byte(5 + len(name)), 0x00, byte(3 + len(name)), 0x00, 0x00, byte(len(name))}
	ext = append(ext, name...)

	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)                   // session id
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)             // compression
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	hs := []byte{0x01, 0x00, byte(len(body) >> 8), byte(len(body))}
	hs = append(hs, body...)

	record := []byte{0x16, 0x03, 0x01, byte(len(hs) >> 8), byte(len(hs))}
	return append(record, hs...)
}

func payloadJob(tuple entity.FiveTuple, flags uint8, payload []byte) *entity.PacketJob {
	return &entity.PacketJob{
		Tuple:         tuple,
		Data:          payload,
		TCPFlags:      flags,
		PayloadOffset: 0,
		PayloadLength: len(payload),
	}
}

func TestBlockedFlowDropsEverything(t *testing.T) {
	sink := &captureSink{}
	w, store := newTestWorker(sink)

	tuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x0200000a,
		SrcPort:  40001,
		DstPort:  443,
		Protocol: entity.IPProtocolTCP,
	}
	store.BlockIP(tuple.SrcIP)

	w.Start()
	for i := 0; i < 5; i++ {
		w.Queue().Push(payloadJob(tuple, entity.TCPFlagACK, nil))
	}
	w.Shutdown()
	w.Join()

	if len(sink.actions) != 5 {
		t.Fatalf("verdicts = %d, want 5", len(sink.actions))
	}
	for i, a := range sink.actions {
		if a != entity.ActionDrop {
			t.Fatalf("verdict %d = %s, want DROP", i, a)
		}
	}

	stats := w.Stats()
	if stats.Processed != 5 || stats.Dropped != 5 || stats.Forwarded != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	flow := w.Table().Get(tuple)
	if flow == nil || flow.State != entity.StateBlocked {
		t.Fatalf("flow = %+v", flow)
	}
}

func TestClassifyTLS(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWorker(sink)

	tuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x0200000a,
		SrcPort:  40002,
		DstPort:  443,
		Protocol: entity.IPProtocolTCP,
	}

	action := w.processPacket(payloadJob(tuple, entity.TCPFlagACK, tlsHello("www.youtube.com")))
	if action != entity.ActionForward {
		t.Fatalf("action = %s", action)
	}

	flow := w.Table().Get(tuple)
	if flow.State != entity.StateClassified || flow.App != entity.AppYouTube || flow.SNI != "www.youtube.com" {
		t.Fatalf("flow = %+v", flow)
	}
}

func TestPortFallbackThenUpgrade(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWorker(sink)

	tuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x0200000a,
		SrcPort:  40003,
		DstPort:  443,
		Protocol: entity.IPProtocolTCP,
	}

	// Opaque payload: the port fallback labels the flow HTTPS but does
	// not classify it.
	w.processPacket(payloadJob(tuple, entity.TCPFlagACK, []byte{0x00, 0x01, 0x02}))
	flow := w.Table().Get(tuple)
	if flow.App != entity.AppHTTPS || flow.State == entity.StateClassified {
		t.Fatalf("after fallback: %+v", flow)
	}

	// A later ClientHello upgrades the flow.
	w.processPacket(payloadJob(tuple, entity.TCPFlagACK, tlsHello("open.spotify.com")))
	if flow.State != entity.StateClassified || flow.App != entity.AppSpotify || flow.SNI != "open.spotify.com" {
		t.Fatalf("after upgrade: %+v", flow)
	}
}

func TestClassifyDNSNotAppBlocked(t *testing.T) {
	sink := &captureSink{}
	w, store := newTestWorker(sink)
	store.BlockApp(entity.AppTelegram)

	dnsTuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x08080808,
		SrcPort:  51000,
		DstPort:  53,
		Protocol: entity.IPProtocolUDP,
	}

	// Hand-built query for api.telegram.org.
	query := []byte{0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	for _, label := range []string{"api", "telegram", "org"} {
		query = append(query, byte(len(label)))
		query = append(query, label...)
	}
	query = append(query, 0x00, 0x00, 0x01, 0x00, 0x01)

	action := w.processPacket(payloadJob(dnsTuple, 0, query))
	if action != entity.ActionForward {
		t.Fatalf("DNS action = %s, want FORWARD", action)
	}
	flow := w.Table().Get(dnsTuple)
	if flow.App != entity.AppDNS || flow.SNI != "api.telegram.org" {
		t.Fatalf("DNS flow = %+v", flow)
	}

	// The HTTPS flow to telegram is application-blocked.
	tlsTuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x0300000a,
		SrcPort:  51001,
		DstPort:  443,
		Protocol: entity.IPProtocolTCP,
	}
	action = w.processPacket(payloadJob(tlsTuple, entity.TCPFlagACK, tlsHello("web.telegram.org")))
	if action != entity.ActionDrop {
		t.Fatalf("TLS action = %s, want DROP", action)
	}
}

func TestTCPStateMachine(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWorker(sink)

	tuple := entity.FiveTuple{
		SrcIP:    0x0100000a,
		DstIP:    0x0200000a,
		SrcPort:  40004,
		DstPort:  80,
		Protocol: entity.IPProtocolTCP,
	}

	w.processPacket(payloadJob(tuple, entity.TCPFlagSYN, nil))
	flow := w.Table().Get(tuple)
	if !flow.SynSeen || flow.State != entity.StateNew {
		t.Fatalf("after SYN: %+v", flow)
	}

	w.processPacket(payloadJob(tuple, entity.TCPFlagSYN|entity.TCPFlagACK, nil))
	if !flow.SynAckSeen {
		t.Fatalf("after SYN+ACK: %+v", flow)
	}

	w.processPacket(payloadJob(tuple, entity.TCPFlagACK, nil))
	if flow.State != entity.StateEstablished {
		t.Fatalf("after ACK: state = %s", flow.State)
	}

	w.processPacket(payloadJob(tuple, entity.TCPFlagFIN|entity.TCPFlagACK, nil))
	if flow.State != entity.StateClosed {
		t.Fatalf("after FIN+ACK: state = %s", flow.State)
	}

	// RST closes immediately on a fresh flow.
	rstTuple := tuple
	rstTuple.SrcPort = 40005
	w.processPacket(payloadJob(rstTuple, entity.TCPFlagRST, nil))
	if w.Table().Get(rstTuple).State != entity.StateClosed {
		t.Fatal("RST did not close the flow")
	}
}

func TestIdleCleanup(t *testing.T) {
	sink := &captureSink{}
	log := logger.New(logger.Config{Level: "disabled"})
	store := rules.New(log)
	cfg := &Config{
		QueueCapacity:  10,
		MaxConnections: 10,
		StaleTimeout:   time.Millisecond,
	}
	w := NewWorker(0, cfg, log, store, sink)

	w.Start()
	w.Queue().Push(payloadJob(entity.FiveTuple{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Protocol: entity.IPProtocolTCP}, 0, nil))

	// Give the worker an idle pop-timeout cycle to run the cleanup.
	time.Sleep(300 * time.Millisecond)
	w.Shutdown()
	w.Join()

	if w.Table().Len() != 0 {
		t.Fatalf("stale flow survived: len = %d", w.Table().Len())
	}
}
