package peerlink

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	heartbeatLabel    = "heartbeat"
	heartbeatInterval = 5 * time.Second
)

const (
	heartbeatKindPing = "ping"
	heartbeatKindPong = "pong"
)

// heartbeatEnvelope is the msgpack frame exchanged over the heartbeat channel.
// The initiator pings on a fixed interval; the responder echoes the sequence
// number back, which gives both sides a liveness signal independent of ICE.
type heartbeatEnvelope struct {
	Kind   string `msgpack:"kind"`
	Seq    uint64 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"`
}

// bindHeartbeat attaches ping/pong handling to the channel. The initiator
// created it and starts pinging once open; the responder only ever replies.
func (l *Link) bindHeartbeat(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.heartbeat = dc
	l.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var env heartbeatEnvelope
		if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
			l.log.Debug("discarding undecodable heartbeat frame", "err", err)
			return
		}
		switch env.Kind {
		case heartbeatKindPing:
			env.Kind = heartbeatKindPong
			if out, err := msgpack.Marshal(env); err == nil {
				_ = dc.Send(out)
			}
			l.lastBeat.Store(time.Now().UnixMilli())
		case heartbeatKindPong:
			l.lastBeat.Store(time.Now().UnixMilli())
		}
	})

	if l.cfg.Role == RoleInitiator {
		dc.OnOpen(func() {
			go l.heartbeatLoop(dc)
		})
	}
}

func (l *Link) heartbeatLoop(dc *webrtc.DataChannel) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ticker.C:
			seq++
			out, err := msgpack.Marshal(heartbeatEnvelope{
				Kind:   heartbeatKindPing,
				Seq:    seq,
				SentAt: time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := dc.Send(out); err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}

// LastHeartbeat reports when the remote side was last heard on the heartbeat
// channel; the zero time means never.
func (l *Link) LastHeartbeat() time.Time {
	ms := l.lastBeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
