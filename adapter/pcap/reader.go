// Package pcap reads and writes classic capture files. Decoding is
// delegated to gopacket/pcapgo, which handles both byte orders; the
// wrappers add the gzip path, the length caps and the record view the
// pipeline works with.
package pcap

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/forest33/dpipe/business/entity"
)

const maxPacketLen = 65535

var gzipMagic = []byte{0x1f, 0x8b}

// RawPacket one capture record: the 16-byte header values plus the
// link-layer bytes.
type RawPacket struct {
	TsSec   uint32
	TsUsec  uint32
	InclLen uint32
	OrigLen uint32
	Data    []byte
}

// Reader decodes a capture file, transparently decompressing gzip
// input. Not safe for concurrent use; the engine reads from a single
// goroutine.
type Reader struct {
	file    *os.File
	gz      *gzip.Reader
	pcap    *pcapgo.Reader
	snaplen uint32
}

// Open opens a capture file. A wrong magic or a truncated global
// header is a fatal open error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open capture file")
	}

	r := &Reader{file: f}

	var src io.Reader = bufio.NewReader(f)
	if isGzip(path, src.(*bufio.Reader)) {
		r.gz, err = gzip.NewReader(src)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "failed to open gzip stream")
		}
		src = r.gz
	}

	r.pcap, err = pcapgo.NewReader(src)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(entity.ErrBadMagic, err.Error())
	}
	r.snaplen = r.pcap.Snaplen()

	return r, nil
}

func isGzip(path string, br *bufio.Reader) bool {
	if strings.HasSuffix(path, ".gz") {
		return true
	}
	head, err := br.Peek(2)
	return err == nil && head[0] == gzipMagic[0] && head[1] == gzipMagic[1]
}

// Snaplen of the capture's global header.
func (r *Reader) Snaplen() uint32 {
	return r.snaplen
}

// Next returns the next record, io.EOF at end of file. A record whose
// included length exceeds the snap length or 65535 is a fatal read
// error.
func (r *Reader) Next() (*RawPacket, error) {
	data, ci, err := r.pcap.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to read packet record")
	}

	if ci.CaptureLength > maxPacketLen || uint32(ci.CaptureLength) > r.snaplen {
		return nil, errors.Wrapf(entity.ErrPacketTooLarge, "incl_len=%d snaplen=%d", ci.CaptureLength, r.snaplen)
	}

	return &RawPacket{
		TsSec:   uint32(ci.Timestamp.Unix()),
		TsUsec:  uint32(ci.Timestamp.Nanosecond() / 1000),
		InclLen: uint32(ci.CaptureLength),
		OrigLen: uint32(ci.Length),
		Data:    data,
	}, nil
}

func (r *Reader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.file.Close()
}
