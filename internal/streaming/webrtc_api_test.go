package streaming

import (
	"strings"
	"testing"

	pion "github.com/pion/webrtc/v4"
)

func TestNewWebRTCAPIOffersProfiles(t *testing.T) {
	api, err := NewWebRTCAPI(APIConfig{})
	if err != nil {
		t.Fatalf("NewWebRTCAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	for _, p := range h264Profiles {
		if !strings.Contains(offer.SDP, "profile-level-id="+p.profileLevelID) {
			t.Errorf("offer missing %s (%s)", p.name, p.profileLevelID)
		}
	}
	if strings.Contains(offer.SDP, "opus") {
		t.Error("offer should not carry audio codecs")
	}
}

func TestTrackProfileIsFirst(t *testing.T) {
	if videoPayloadType != 96 {
		t.Errorf("videoPayloadType = %d, want 96", videoPayloadType)
	}
	if !strings.HasSuffix(videoFmtpLine, "profile-level-id=42e01f") {
		t.Errorf("videoFmtpLine = %q", videoFmtpLine)
	}
}
