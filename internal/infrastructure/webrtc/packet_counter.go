package webrtc

import (
	"sync/atomic"

	"peercall/internal/core/domain"

	"github.com/pion/rtp"
)

// PacketCounter is a PacketSink that tallies received packets and payload
// bytes per media kind.
type PacketCounter struct {
	audioPackets atomic.Uint64
	audioBytes   atomic.Uint64
	videoPackets atomic.Uint64
	videoBytes   atomic.Uint64
}

type MediaStats struct {
	Packets uint64
	Bytes   uint64
}

var _ PacketSink = (*PacketCounter)(nil)

func (c *PacketCounter) WritePacket(kind domain.MediaKind, pkt *rtp.Packet) {
	n := uint64(len(pkt.Payload))
	switch kind {
	case domain.MediaAudio:
		c.audioPackets.Add(1)
		c.audioBytes.Add(n)
	case domain.MediaVideo:
		c.videoPackets.Add(1)
		c.videoBytes.Add(n)
	}
}

func (c *PacketCounter) Stats(kind domain.MediaKind) MediaStats {
	switch kind {
	case domain.MediaAudio:
		return MediaStats{Packets: c.audioPackets.Load(), Bytes: c.audioBytes.Load()}
	case domain.MediaVideo:
		return MediaStats{Packets: c.videoPackets.Load(), Bytes: c.videoBytes.Load()}
	}
	return MediaStats{}
}
