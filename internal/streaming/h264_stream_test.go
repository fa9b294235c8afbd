package streaming

import (
	"bytes"
	"testing"

	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/h264/annexb"
	"github.com/smazurov/deskstream/internal/media"
)

const testFmtp = "profile-level-id=42e01f;packetization-mode=1;sprop-parameter-sets=Z0IAKeKQFAe2AtwEBAaQeJEV,aM48gA=="

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, annexb.StartCode...)
		out = append(out, n...)
	}
	return out
}

func nalTypes(avc []byte) []byte {
	units := media.SplitAVCC(avc)
	out := make([]byte, len(units))
	for i, u := range units {
		out[i] = h264.NALUType(u)
	}
	return out
}

func TestNewH264StreamParameterSets(t *testing.T) {
	h := newH264Stream(videoMTU, 1, testFmtp)
	if len(h.sps) <= 4 || h264.NALUType(h.sps) != h264.NALUTypeSPS {
		t.Errorf("SPS from fmtp = %x", h.sps)
	}
	if len(h.pps) <= 4 || h264.NALUType(h.pps) != h264.NALUTypePPS {
		t.Errorf("PPS from fmtp = %x", h.pps)
	}

	for _, line := range []string{"", "packetization-mode=1", "sprop-parameter-sets=Z0IAKeKQFAe2AtwEBAaQeJEV"} {
		if h := newH264Stream(videoMTU, 1, line); h.sps != nil || h.pps != nil {
			t.Errorf("fmtp %q: sps=%x pps=%x, want none", line, h.sps, h.pps)
		}
	}
}

func TestH264StreamInjectsParameterSets(t *testing.T) {
	h := newH264Stream(videoMTU, 1, testFmtp)

	idr := []byte{0x65, 0x88, 0x84, 0x00}
	avc := h.prepare(annexB(idr))

	got := nalTypes(avc)
	want := []byte{h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeIFrame}
	if string(got) != string(want) {
		t.Errorf("NAL types = %v, want %v", got, want)
	}
}

func TestH264StreamPFramePassthrough(t *testing.T) {
	h := newH264Stream(videoMTU, 1, testFmtp)

	pframe := []byte{0x41, 0x9a, 0x00}
	avc := h.prepare(annexB(pframe))
	if got := nalTypes(avc); string(got) != string([]byte{h264.NALUTypePFrame}) {
		t.Errorf("expected single P slice, got types %v", got)
	}
}

func TestH264StreamCachesInBandParameterSets(t *testing.T) {
	h := newH264Stream(videoMTU, 1, "")

	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	idr := []byte{0x65, 0x88}

	// in-band sets are not duplicated
	avc := h.prepare(annexB(sps, pps, idr))
	if n := len(media.SplitAVCC(avc)); n != 3 {
		t.Fatalf("expected 3 NALs, got %d", n)
	}

	// the next IDR without sets gets the cached ones
	avc = h.prepare(annexB(idr))
	got := nalTypes(avc)
	want := []byte{h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeIFrame}
	if string(got) != string(want) {
		t.Fatalf("NAL types = %v, want %v", got, want)
	}
	units := media.SplitAVCC(avc)
	if !bytes.Equal(units[0], media.AVCCUnit(sps)) || !bytes.Equal(units[1], media.AVCCUnit(pps)) {
		t.Error("cached parameter sets do not match the in-band ones")
	}
}

func TestH264StreamCacheSurvivesPacketizing(t *testing.T) {
	h := newH264Stream(videoMTU, 1, "")

	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	if pkts := h.packets(annexB(sps, pps, []byte{0x65, 0x88}), 0); len(pkts) == 0 {
		t.Fatal("expected packets")
	}
	// packetizing rewrites length prefixes to start codes in place
	if !bytes.Equal(h.sps, media.AVCCUnit(sps)) || !bytes.Equal(h.pps, media.AVCCUnit(pps)) {
		t.Errorf("cached sets clobbered: sps=%x pps=%x", h.sps, h.pps)
	}
}

func TestH264StreamNoCacheNoInjection(t *testing.T) {
	h := newH264Stream(videoMTU, 1, "")
	avc := h.prepare(annexB([]byte{0x65, 0x88}))
	if n := len(media.SplitAVCC(avc)); n != 1 {
		t.Errorf("expected IDR alone without cached sets, got %d NALs", n)
	}
}

func TestH264StreamPackets(t *testing.T) {
	h := newH264Stream(videoMTU, 0xdeadbeef, testFmtp)

	idr := make([]byte, 3000)
	idr[0] = 0x65
	first := h.packets(annexB(idr), 1_000_000)
	if len(first) < 2 {
		t.Fatalf("expected fragmented access unit, got %d packets", len(first))
	}
	for i, pkt := range first {
		if pkt.PayloadType != videoPayloadType {
			t.Errorf("packet %d payload type = %d", i, pkt.PayloadType)
		}
		if pkt.SSRC != 0xdeadbeef {
			t.Errorf("packet %d SSRC = %x", i, pkt.SSRC)
		}
		if pkt.Marker != (i == len(first)-1) {
			t.Errorf("packet %d marker = %v", i, pkt.Marker)
		}
	}

	second := h.packets(annexB([]byte{0x41, 0x9a}), 1_033_333)
	if len(second) == 0 {
		t.Fatal("expected packets for P frame")
	}
	if delta := second[0].Timestamp - first[0].Timestamp; delta != 2999 {
		t.Errorf("timestamp delta = %d, want 2999", delta)
	}

	if pkts := h.packets(nil, 1_066_666); pkts != nil {
		t.Errorf("expected no packets for empty access unit, got %d", len(pkts))
	}
}
