package pcap

import (
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Writer appends records to an output capture written in native byte
// order. A single goroutine owns the forward queue, but the mutex is
// kept so the global header can be written from a different thread
// than the packet loop.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	pcap *pcapgo.Writer
}

// Create opens the output file and writes the 24-byte global header,
// carrying over the input's snap length.
func Create(path string, snaplen uint32) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create capture file")
	}

	w := &Writer{
		file: f,
		pcap: pcapgo.NewWriter(f),
	}

	w.mu.Lock()
	err = w.pcap.WriteFileHeader(snaplen, layers.LinkTypeEthernet)
	w.mu.Unlock()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to write capture header")
	}

	return w, nil
}

// WritePacket appends one record, preserving the original capture
// timestamps and lengths.
func (w *Writer) WritePacket(tsSec, tsUsec, origLen uint32, data []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(int64(tsSec), int64(tsUsec)*int64(time.Microsecond)),
		CaptureLength: len(data),
		Length:        int(origLen),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pcap.WritePacket(ci, data)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
