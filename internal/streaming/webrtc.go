package streaming

import (
	"log/slog"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
)

const (
	framesLabel = "frames"
	inputLabel  = "input"

	// maxBufferedAmount is the frames channel backlog above which new
	// frames are skipped instead of queued.
	maxBufferedAmount = 1 << 20

	videoMTU = 1200
)

// peer is one viewer connection. Exactly one of video and frames is used,
// depending on the codec the session encodes.
type peer struct {
	id     string
	pc     *pion.PeerConnection
	logger *slog.Logger

	video *pion.TrackLocalStaticRTP
	h264  *h264Stream

	frames  *frameStream
	channel atomic.Pointer[pion.DataChannel] // frames channel once open

	closeOnce sync.Once
}

// attachFrames tracks dc as the frames channel while it is open.
func (p *peer) attachFrames(dc *pion.DataChannel) {
	dc.OnOpen(func() {
		p.channel.Store(dc)
		p.logger.Debug("Frames channel open", "label", dc.Label())
	})
	dc.OnClose(func() {
		p.channel.CompareAndSwap(dc, nil)
		p.logger.Debug("Frames channel closed")
	})
}

// startRTCPReaders drains RTCP from every sender so the interceptors see
// NACK and PLI feedback.
func (p *peer) startRTCPReaders() {
	for _, sender := range p.pc.GetSenders() {
		go func(s *pion.RTPSender) {
			for {
				if _, _, err := s.ReadRTCP(); err != nil {
					return
				}
			}
		}(sender)
	}
}

func (p *peer) close() error {
	var err error
	p.closeOnce.Do(func() {
		p.channel.Store(nil)
		err = p.pc.Close()
	})
	return err
}
