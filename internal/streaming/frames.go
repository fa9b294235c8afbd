package streaming

import (
	"math/rand/v2"

	"github.com/pion/rtp"
)

const (
	// framesMTU bounds each data channel message. 16 KiB is the largest
	// message size every browser accepts without fragmentation issues.
	framesMTU = 16 * 1024

	framesPayloadType = 26 // JPEG, RFC 3551
	framesClockRate   = 90000
)

// chunkPayloader splits an opaque payload into MTU-sized pieces. The viewer
// concatenates packets until it sees the marker bit.
type chunkPayloader struct{}

func (chunkPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	size := int(mtu)
	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunk := make([]byte, n)
		copy(chunk, payload[:n])
		out = append(out, chunk)
		payload = payload[n:]
	}
	return out
}

// frameStream frames whole encoded images as RTP packet sequences for the
// frames data channel.
type frameStream struct {
	packetizer rtp.Packetizer
	clock      rtpClock
}

func newFrameStream(ssrc uint32) *frameStream {
	return &frameStream{
		packetizer: rtp.NewPacketizer(framesMTU, framesPayloadType, ssrc, chunkPayloader{}, rtp.NewRandomSequencer(), framesClockRate),
		clock:      newRTPClock(framesClockRate),
	}
}

// messages returns the marshalled packets for one frame stamped at ts
// (microseconds).
func (f *frameStream) messages(data []byte, ts int64) ([][]byte, error) {
	packets := f.packetizer.Packetize(data, 0)
	stamp := f.clock.timestamp(ts)
	out := make([][]byte, 0, len(packets))
	for _, pkt := range packets {
		pkt.Timestamp = stamp
		b, err := pkt.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// rtpClock maps microsecond capture timestamps onto an RTP clock. The
// packetizer only advances its timestamp after a packet group, so groups
// are stamped here instead.
type rtpClock struct {
	rate    int64
	base    uint32
	first   int64
	started bool
}

func newRTPClock(rate int64) rtpClock {
	return rtpClock{rate: rate, base: rand.Uint32()}
}

func (c *rtpClock) timestamp(ts int64) uint32 {
	if !c.started {
		c.started = true
		c.first = ts
	}
	return c.base + uint32((ts-c.first)*c.rate/1_000_000)
}
