// Package streaming is the WebRTC transport backend: WebSocket signaling
// towards a rendezvous server, pion peer connections towards the viewer.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/media"
	"github.com/smazurov/deskstream/internal/transport"
)

const gatherTimeout = 5 * time.Second

// ErrNotStarted is returned by HandleOffer before Connect.
var ErrNotStarted = errors.New("webrtc backend not started")

func init() {
	transport.Register("webrtc", func(opts transport.Options) (transport.Backend, error) {
		return NewBackend(opts), nil
	})
}

// Backend implements transport.Backend. A single viewer is served at a time;
// a new offer replaces the previous peer.
type Backend struct {
	opts   transport.Options
	logger *slog.Logger
	ice    []pion.ICEServer

	cbMu       sync.RWMutex
	onEvent    func(input.Event)
	onState    func(transport.ConnectionState)
	onViewport func(input.Size)
	onKeyframe func()

	mu      sync.Mutex
	peer    *peer
	sig     *signalingClient
	cancel  context.CancelFunc
	started time.Time
	wg      sync.WaitGroup

	sendMu     sync.Mutex // packetizer state
	frameCount atomic.Uint64
	bytesSent  atomic.Uint64
}

// NewBackend creates an idle backend.
func NewBackend(opts transport.Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Codec == "" {
		opts.Codec = media.CodecJPEG
	}
	b := &Backend{opts: opts, logger: logger}
	if len(opts.ICEServers) > 0 {
		b.ice = []pion.ICEServer{{URLs: opts.ICEServers}}
	}
	return b
}

func (b *Backend) OnInboundEvent(fn func(input.Event)) {
	b.cbMu.Lock()
	b.onEvent = fn
	b.cbMu.Unlock()
}

func (b *Backend) OnConnectionState(fn func(transport.ConnectionState)) {
	b.cbMu.Lock()
	b.onState = fn
	b.cbMu.Unlock()
}

// OnViewport is called with the viewer's display size when it announces one.
func (b *Backend) OnViewport(fn func(input.Size)) {
	b.cbMu.Lock()
	b.onViewport = fn
	b.cbMu.Unlock()
}

// OnKeyframeRequest is called when the viewer sends PLI or FIR.
func (b *Backend) OnKeyframeRequest(fn func()) {
	b.cbMu.Lock()
	b.onKeyframe = fn
	b.cbMu.Unlock()
}

// Connect registers with the signaling server at endpoint and starts
// answering offers. An empty endpoint accepts offers only through
// HandleOffer.
func (b *Backend) Connect(ctx context.Context, endpoint string) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.started = time.Now()
	b.mu.Unlock()

	b.frameCount.Store(0)
	b.bytesSent.Store(0)

	if endpoint == "" {
		b.logger.Info("WebRTC backend accepting offers over HTTP only")
		return nil
	}

	sig, err := dialSignaling(ctx, endpoint, b.logger)
	if err == nil {
		err = sig.send(registerMessage{
			Type:     msgRegister,
			Role:     "streamer",
			DeviceID: b.opts.DeviceID,
			Capabilities: capabilities{
				Video: true,
				Audio: false,
				Input: b.opts.Input,
			},
		})
		if err != nil {
			_ = sig.close()
		}
	}
	if err != nil {
		b.mu.Lock()
		b.cancel = nil
		b.mu.Unlock()
		cancel()
		return err
	}

	b.mu.Lock()
	b.sig = sig
	b.mu.Unlock()
	b.logger.Info("Registered with signaling server", "endpoint", endpoint, "device_id", b.opts.DeviceID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := sig.run(func(env envelope) { b.handleSignal(runCtx, sig, env) }); err != nil {
			b.logger.Warn("Signaling connection lost", "error", err)
		}
		b.mu.Lock()
		if b.sig == sig {
			b.sig = nil
		}
		b.mu.Unlock()
	}()

	if b.opts.StatsInterval > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.reportStats(runCtx, sig)
		}()
	}
	return nil
}

func (b *Backend) handleSignal(ctx context.Context, sig *signalingClient, env envelope) {
	switch env.Type {
	case msgOffer:
		sdp, err := offerSDP(env.Offer)
		if err != nil {
			b.logger.Warn("Ignoring offer", "error", err)
			return
		}
		answer, err := b.HandleOffer(ctx, sdp)
		if err != nil {
			b.logger.Warn("Failed to answer offer", "from", env.From, "error", err)
			return
		}
		err = sig.send(answerMessage{
			Type:   msgAnswer,
			Answer: pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer},
			Target: env.From,
		})
		if err != nil {
			b.logger.Warn("Failed to send answer", "error", err)
		}

	case msgICECandidate:
		init, err := candidateInit(env.Candidate)
		if err != nil {
			b.logger.Debug("Ignoring candidate", "error", err)
			return
		}
		if p := b.currentPeer(); p != nil {
			if err := p.pc.AddICECandidate(init); err != nil {
				b.logger.Debug("Failed to add remote candidate", "error", err)
			}
		}

	case msgInputEvent:
		msg, err := input.DecodeJSON(env.Event)
		if err != nil {
			IncrementInputMalformed()
			b.logger.Debug("Ignoring input event", "error", err)
			return
		}
		IncrementInputMessages("json")
		b.deliver(msg)

	case msgStartStreaming, msgStopStreaming:
		// the host owns the lifecycle
		b.logger.Info("Viewer streaming request ignored", "type", env.Type, "from", env.From)

	case msgError:
		b.logger.Warn("Signaling server error", "message", env.Message)

	default:
		b.logger.Debug("Unhandled signaling message", "type", env.Type)
	}
}

// HandleOffer answers a viewer's SDP offer and makes it the active peer. The
// answer is returned after ICE gathering completes or times out.
func (b *Backend) HandleOffer(ctx context.Context, offer string) (string, error) {
	b.mu.Lock()
	started := b.cancel != nil
	b.mu.Unlock()
	if !started {
		return "", ErrNotStarted
	}

	api, err := NewWebRTCAPI(APIConfig{OnKeyframe: b.requestKeyframe})
	if err != nil {
		return "", err
	}
	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: b.ice})
	if err != nil {
		return "", err
	}

	id := core.RandString(8, 10)
	p := &peer{id: id, pc: pc, logger: b.logger.With("peer_id", id)}

	answer, err := b.negotiate(ctx, p, offer)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	if err := b.install(p); err != nil {
		return "", err
	}
	return answer, nil
}

// install makes p the active peer, closing the one it replaces. p is
// closed instead when Disconnect ran while it was negotiating.
func (b *Backend) install(p *peer) error {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		_ = p.close()
		return ErrNotStarted
	}
	prev := b.peer
	b.peer = p
	b.mu.Unlock()

	if prev != nil {
		p.logger.Info("Replacing previous viewer", "previous_peer_id", prev.id)
		_ = prev.close()
	}
	SetActivePeers(1)
	return nil
}

func (b *Backend) negotiate(ctx context.Context, p *peer, offer string) (string, error) {
	pc := p.pc

	if b.opts.Codec == media.CodecH264 {
		track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   videoClockRate,
			SDPFmtpLine: videoFmtpLine,
		}, "video", "deskstream")
		if err != nil {
			return "", err
		}
		if _, err := pc.AddTrack(track); err != nil {
			return "", err
		}
		p.video = track
		p.h264 = newH264Stream(videoMTU, rand.Uint32(), "")
	} else {
		dc, err := pc.CreateDataChannel(framesLabel, nil)
		if err != nil {
			return "", err
		}
		p.frames = newFrameStream(rand.Uint32())
		p.attachFrames(dc)
	}

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		switch dc.Label() {
		case inputLabel:
			b.attachInput(p, dc)
		case framesLabel:
			// viewer-created frames channel
			if p.frames != nil {
				p.attachFrames(dc)
			}
		default:
			p.logger.Debug("Ignoring data channel", "label", dc.Label())
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		b.peerStateChanged(p, state)
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		p.logger.Warn("ICE gathering timed out, sending partial answer")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

func (b *Backend) attachInput(p *peer, dc *pion.DataChannel) {
	p.logger.Debug("Input channel attached")
	dc.OnMessage(func(m pion.DataChannelMessage) {
		var (
			msg input.Message
			err error
		)
		if m.IsString {
			IncrementInputMessages("json")
			msg, err = input.DecodeJSON(m.Data)
		} else {
			IncrementInputMessages("cbor")
			msg, err = input.DecodeCBOR(m.Data)
		}
		if err != nil {
			IncrementInputMalformed()
			p.logger.Debug("Dropping malformed input message", "error", err)
			return
		}
		b.deliver(msg)
	})
}

func (b *Backend) deliver(msg input.Message) {
	b.cbMu.RLock()
	onEvent, onViewport := b.onEvent, b.onViewport
	b.cbMu.RUnlock()

	if msg.Viewport != nil {
		if onViewport != nil {
			onViewport(*msg.Viewport)
		}
		return
	}
	if onEvent != nil {
		onEvent(msg.Event)
	}
}

func (b *Backend) peerStateChanged(p *peer, state pion.PeerConnectionState) {
	p.logger.Debug("Peer connection state", "state", state.String())

	switch state {
	case pion.PeerConnectionStateConnected:
		p.startRTCPReaders()
		if b.currentPeer() == p {
			b.emitState(transport.StateConnected)
		}
	case pion.PeerConnectionStateDisconnected,
		pion.PeerConnectionStateFailed,
		pion.PeerConnectionStateClosed:
		b.mu.Lock()
		current := b.peer == p
		if current {
			b.peer = nil
		}
		b.mu.Unlock()

		// Close re-enters the state callback
		go p.close()
		if current {
			SetActivePeers(0)
			b.emitState(transport.StateDisconnected)
		}
	}
}

func (b *Backend) emitState(state transport.ConnectionState) {
	b.cbMu.RLock()
	fn := b.onState
	b.cbMu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

func (b *Backend) requestKeyframe() {
	b.cbMu.RLock()
	fn := b.onKeyframe
	b.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (b *Backend) currentPeer() *peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer
}

// PeerCount returns 1 while a viewer is attached.
func (b *Backend) PeerCount() int {
	if b.currentPeer() != nil {
		return 1
	}
	return 0
}

// Send writes one payload to the active viewer.
func (b *Backend) Send(payload media.Payload) error {
	p := b.currentPeer()
	if p == nil {
		return transport.ErrNotConnected
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	var err error
	if p.video != nil {
		err = b.sendTrack(p, payload)
	} else {
		err = b.sendFrames(p, payload)
	}
	if err != nil {
		return err
	}

	b.frameCount.Add(1)
	b.bytesSent.Add(uint64(len(payload.Data)))
	return nil
}

func (b *Backend) sendTrack(p *peer, payload media.Payload) error {
	if payload.Codec != media.CodecH264 {
		return fmt.Errorf("codec %q cannot be sent on an H.264 track", payload.Codec)
	}
	for _, pkt := range p.h264.packets(payload.Data, payload.Timestamp) {
		if err := p.video.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return transport.ErrNotConnected
			}
			return err
		}
		IncrementPacketsSent("track", pkt.MarshalSize())
	}
	return nil
}

func (b *Backend) sendFrames(p *peer, payload media.Payload) error {
	dc := p.channel.Load()
	if dc == nil {
		return fmt.Errorf("%w: frames channel not open", transport.ErrDropped)
	}
	if dc.BufferedAmount() > maxBufferedAmount {
		IncrementFramesSkipped()
		return fmt.Errorf("%w: frames channel backlog %d bytes", transport.ErrDropped, dc.BufferedAmount())
	}

	msgs, err := p.frames.messages(payload.Data, payload.Timestamp)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := dc.Send(m); err != nil {
			return err
		}
		IncrementPacketsSent("datachannel", len(m))
	}
	return nil
}

func (b *Backend) reportStats(ctx context.Context, sig *signalingClient) {
	ticker := time.NewTicker(b.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := sig.send(b.frameStats(now)); err != nil {
				b.logger.Debug("Failed to send frame stats", "error", err)
				return
			}
		}
	}
}

func (b *Backend) frameStats(now time.Time) frameStatsMessage {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()

	count := b.frameCount.Load()
	msg := frameStatsMessage{
		Type:       msgFrameStats,
		FrameCount: count,
		BytesSent:  b.bytesSent.Load(),
		Timestamp:  now.UnixMilli(),
	}
	if secs := now.Sub(started).Seconds(); secs > 0 {
		msg.FPS = float64(count) / secs
	}
	return msg
}

// Disconnect closes the viewer peer and the signaling connection. Calling
// it more than once is safe.
func (b *Backend) Disconnect() error {
	b.mu.Lock()
	sig, cancel, p := b.sig, b.cancel, b.peer
	b.sig, b.cancel, b.peer = nil, nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if sig != nil {
		errs = append(errs, sig.close())
	}
	if p != nil {
		errs = append(errs, p.close())
		SetActivePeers(0)
	}
	b.wg.Wait()

	if p != nil {
		b.emitState(transport.StateDisconnected)
	}
	if cancel != nil {
		b.logger.Info("WebRTC backend disconnected")
	}
	return errors.Join(errs...)
}
