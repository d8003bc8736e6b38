package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// eventHandlers logs peer connection events and tears the Conn down when
// the connection is lost.
type eventHandlers struct {
	logger zerolog.Logger
	lost   func()
}

func (h eventHandlers) handleIceCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	var connType string
	switch candidate.Typ {
	case webrtc.ICECandidateTypeHost:
		connType = "Direct" // local network or public ip
	case webrtc.ICECandidateTypeSrflx:
		connType = "STUN"
	case webrtc.ICECandidateTypeRelay:
		connType = "TURN"
	case webrtc.ICECandidateTypePrflx:
		connType = "Peer"
	default:
		connType = "Undefined"
	}

	h.logger.Debug().
		Str("type", connType).
		Str("protocol", candidate.Protocol.String()).
		Str("address", candidate.Address).
		Uint16("port", candidate.Port).
		Uint32("priority", candidate.Priority).
		Msg("New ICE candidate gathered")
}

func (h eventHandlers) handleIceConnectionStateChange(state webrtc.ICEConnectionState) {
	h.logger.Debug().Str("state", state.String()).Msg("ICE state changed")
}

func (h eventHandlers) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	h.logger.Info().Str("state", state.String()).Msg("Peer connection state changed")
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		if h.lost != nil {
			h.lost()
		}
	}
}

func (h eventHandlers) setup(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(h.handleIceCandidate)
	pc.OnICEConnectionStateChange(h.handleIceConnectionStateChange)
	pc.OnConnectionStateChange(h.handleConnectionStateChange)
}
