package streaming

import (
	"bytes"
	"slices"

	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/h264/annexb"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/smazurov/deskstream/internal/media"
)

// h264Stream packetizes Annex-B access units for the video track. Cached
// SPS/PPS are injected before every IDR that does not carry them in-band,
// so late-joining viewers and decoders recovering from loss can start
// decoding at the next keyframe.
type h264Stream struct {
	packetizer rtp.Packetizer
	clock      rtpClock
	// length-prefixed, like the units from media.SplitAnnexB
	sps, pps []byte
}

func newH264Stream(mtu uint16, ssrc uint32, fmtpLine string) *h264Stream {
	h := &h264Stream{
		packetizer: rtp.NewPacketizer(mtu, videoPayloadType, ssrc, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), videoClockRate),
		clock:      newRTPClock(videoClockRate),
	}
	if sps, pps := h264.GetParameterSet(fmtpLine); len(sps) > 0 && len(pps) > 0 {
		h.sps = media.AVCCUnit(sps)
		h.pps = media.AVCCUnit(pps)
	}
	return h
}

// packets returns the RTP packets for one access unit stamped at ts
// (microseconds).
func (h *h264Stream) packets(au []byte, ts int64) []*rtp.Packet {
	avc := h.prepare(au)
	if len(avc) == 0 {
		return nil
	}
	// prepare returns a fresh buffer, so the in-place rewrite is safe
	packets := h.packetizer.Packetize(annexb.DecodeAVCC(avc, false), 0)
	stamp := h.clock.timestamp(ts)
	for _, pkt := range packets {
		pkt.Timestamp = stamp
	}
	return packets
}

// prepare converts au to AVCC and prepends parameter sets where needed.
func (h *h264Stream) prepare(au []byte) []byte {
	units := media.SplitAnnexB(au)

	var inBand, idr bool
	for _, unit := range units {
		switch h264.NALUType(unit) {
		case h264.NALUTypeSPS:
			h.sps = bytes.Clone(unit)
			inBand = true
		case h264.NALUTypePPS:
			h.pps = bytes.Clone(unit)
			inBand = true
		case h264.NALUTypeIFrame:
			idr = true
		}
	}

	avc := slices.Concat(units...)
	if !idr || inBand || len(h.sps) == 0 || len(h.pps) == 0 {
		return avc
	}
	return h264.Join(slices.Concat(h.sps, h.pps), avc)
}
