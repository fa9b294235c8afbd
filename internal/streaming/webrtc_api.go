package streaming

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/interceptor/pkg/twcc"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// DefaultNACKBufferSize is the number of packets kept for retransmission.
// Desktop content produces large keyframes after every scene change, so it
// is well above pion's default of 64.
const DefaultNACKBufferSize = 8192

const videoClockRate = 90000

// h264Profile is one H.264 payload type offered to viewers.
type h264Profile struct {
	name           string
	profileLevelID string
	payloadType    pion.PayloadType
}

// The first profile is the one the agent's track is created with.
var h264Profiles = []h264Profile{
	{name: "constrained-baseline-3.1", profileLevelID: "42e01f", payloadType: 96},
	{name: "baseline-3.1", profileLevelID: "42001f", payloadType: 97},
	{name: "high-4.0", profileLevelID: "640028", payloadType: 99},
}

var (
	videoPayloadType = uint8(h264Profiles[0].payloadType)
	videoFmtpLine    = h264Profiles[0].fmtp()
)

func (p h264Profile) fmtp() string {
	return "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + p.profileLevelID
}

// APIConfig tunes the pion API built for each viewer.
type APIConfig struct {
	// OnKeyframe is invoked once per compound RTCP packet carrying a PLI
	// or FIR.
	OnKeyframe func()
	// NACKBufferSize defaults to DefaultNACKBufferSize.
	NACKBufferSize uint16
}

// NewWebRTCAPI builds a pion API with the H.264 profiles and the
// interceptor chain the agent uses.
func NewWebRTCAPI(cfg APIConfig) (*pion.API, error) {
	if cfg.NACKBufferSize == 0 {
		cfg.NACKBufferSize = DefaultNACKBufferSize
	}

	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i, cfg.NACKBufferSize); err != nil {
		return nil, fmt.Errorf("configure interceptors: %w", err)
	}
	i.Add(&rtcpMonitorInterceptorFactory{onKeyframe: cfg.OnKeyframe})

	s := pion.SettingEngine{}
	s.SetDTLSInsecureSkipHelloVerify(true)
	// SRTP must accept every sequence number the NACK responder may resend.
	s.SetSRTPReplayProtectionWindow(uint(cfg.NACKBufferSize) + 1024)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// registerCodecs registers every H.264 profile with RTCP feedback. The
// agent sends no audio.
func registerCodecs(m *pion.MediaEngine) error {
	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	for _, p := range h264Profiles {
		codec := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    videoClockRate,
				SDPFmtpLine:  p.fmtp(),
				RTCPFeedback: feedback,
			},
			PayloadType: p.payloadType,
		}
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// configureInterceptors sets up NACK, RTCP reports, stats and TWCC, in
// that order.
func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry, nackSize uint16) error {
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: pion.TypeRTCPFBTransportCC}, pion.RTPCodecTypeVideo)

	chain := []struct {
		name string
		make func() (interceptor.Factory, error)
	}{
		{"nack responder", func() (interceptor.Factory, error) {
			return nack.NewResponderInterceptor(nack.ResponderSize(nackSize))
		}},
		{"nack generator", func() (interceptor.Factory, error) { return nack.NewGeneratorInterceptor() }},
		{"receiver report", func() (interceptor.Factory, error) { return report.NewReceiverInterceptor() }},
		{"sender report", func() (interceptor.Factory, error) { return report.NewSenderInterceptor() }},
		{"stats", func() (interceptor.Factory, error) { return stats.NewInterceptor() }},
		{"twcc", func() (interceptor.Factory, error) { return twcc.NewSenderInterceptor() }},
	}
	for _, c := range chain {
		f, err := c.make()
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		i.Add(f)
	}
	return nil
}

type rtcpMonitorInterceptorFactory struct {
	onKeyframe func()
}

func (f *rtcpMonitorInterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpMonitorInterceptor{onKeyframe: f.onKeyframe}, nil
}

// rtcpMonitorInterceptor counts viewer feedback and turns PLI/FIR into
// keyframe requests.
type rtcpMonitorInterceptor struct {
	interceptor.NoOp
	onKeyframe func()
}

func (r *rtcpMonitorInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &rtcpMonitorReader{reader: reader, onKeyframe: r.onKeyframe}
}

type rtcpMonitorReader struct {
	reader     interceptor.RTCPReader
	onKeyframe func()
}

func (r *rtcpMonitorReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}
	// Unparseable RTCP is still handed to the next reader.
	if packets, parseErr := rtcp.Unmarshal(b[:n]); parseErr == nil {
		r.observe(packets)
	}
	return n, attr, nil
}

func (r *rtcpMonitorReader) observe(packets []rtcp.Packet) {
	keyframe := false
	for _, pkt := range packets {
		IncrementRTCPPackets()
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			lost := 0
			for _, pair := range p.Nacks {
				lost += len(pair.PacketList())
			}
			IncrementNACKs(lost)
		case *rtcp.PictureLossIndication:
			IncrementPLIs()
			keyframe = true
		case *rtcp.FullIntraRequest:
			IncrementFIRs()
			keyframe = true
		}
	}
	// one request per compound packet
	if keyframe && r.onKeyframe != nil {
		r.onKeyframe()
	}
}
