package media

import (
	"encoding/binary"

	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/h264/annexb"
)

// SplitAnnexB converts an Annex-B byte stream to AVCC and returns its NAL
// units, each still carrying its 4-byte length prefix so h264.NALUType
// applies directly. Access unit delimiters and empty units are dropped.
func SplitAnnexB(data []byte) [][]byte {
	return SplitAVCC(annexb.EncodeToAVCC(data))
}

// SplitAVCC returns the length-prefixed units of an AVCC buffer. A
// truncated trailing unit is dropped.
func SplitAVCC(avc []byte) [][]byte {
	var units [][]byte
	for len(avc) >= 4 {
		size := 4 + int(binary.BigEndian.Uint32(avc))
		if size > len(avc) {
			break
		}
		if size > 4 {
			units = append(units, avc[:size])
		}
		avc = avc[size:]
	}
	return units
}

// AVCCUnit prefixes a bare NAL unit with its length.
func AVCCUnit(nal []byte) []byte {
	unit := make([]byte, 0, 4+len(nal))
	unit = binary.BigEndian.AppendUint32(unit, uint32(len(nal)))
	return append(unit, nal...)
}

// IsH264Keyframe reports whether an Annex-B access unit contains an IDR slice.
func IsH264Keyframe(data []byte) bool {
	avc := annexb.EncodeToAVCC(data)
	if len(avc) <= 4 {
		return false
	}
	return h264.IsKeyframe(avc)
}
