package capture

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrInvalidSegment is returned for files that are not pcap or pcapng captures.
var ErrInvalidSegment = errors.New("invalid capture segment")

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// SegmentInfo describes the packets of one capture file.
type SegmentInfo struct {
	Format      string
	LinkType    layers.LinkType
	Packets     int
	FirstPacket time.Time
	LastPacket  time.Time
	// Truncated is set when the file ends inside a packet record.
	Truncated bool
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// InspectSegment reads every packet header of the capture at path. A file
// without a valid pcap or pcapng header yields ErrInvalidSegment.
func InspectSegment(path string) (*SegmentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open segment %s", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "segment %s is too short", path), ErrInvalidSegment)
	}

	info := &SegmentInfo{}
	var r packetReader
	if bytes.Equal(magic, pcapngMagic) {
		info.Format = "pcapng"
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		info.Format = "pcap"
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "segment %s", path), ErrInvalidSegment)
	}
	info.LinkType = r.LinkType()

	for {
		_, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			info.Truncated = true
			break
		}
		if err != nil {
			return info, errors.Wrapf(err, "failed to read packet %d of %s", info.Packets+1, path)
		}
		if info.Packets == 0 || ci.Timestamp.Before(info.FirstPacket) {
			info.FirstPacket = ci.Timestamp
		}
		if ci.Timestamp.After(info.LastPacket) {
			info.LastPacket = ci.Timestamp
		}
		info.Packets++
	}
	return info, nil
}
