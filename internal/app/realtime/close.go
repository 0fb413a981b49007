package realtime

import "github.com/gorilla/websocket"

// Application close codes (4000-4999) sent in the close frame.
const (
	CloseCodeSessionReplaced = 4001
	CloseCodeOverflow        = 4002
	CloseCodeJoinTimeout     = 4003
	CloseCodeIdleTimeout     = 4004
)

// CloseReason records why a connection left the Open or Connecting state.
type CloseReason int32

const (
	ReasonNone CloseReason = iota
	ReasonPeerClosed
	ReasonTransportFailure
	ReasonIdleTimeout
	ReasonReplaced
	ReasonOverflow
	ReasonJoinTimeout
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonTransportFailure:
		return "transport_failure"
	case ReasonIdleTimeout:
		return "idle_timeout"
	case ReasonReplaced:
		return "replaced"
	case ReasonOverflow:
		return "overflow"
	case ReasonJoinTimeout:
		return "join_timeout"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// closeFrame returns the close code and text to send for the reason.
// ok is false when the transport is already gone and no frame should be written.
func (r CloseReason) closeFrame() (code int, text string, ok bool) {
	switch r {
	case ReasonReplaced:
		return CloseCodeSessionReplaced, "session replaced by a new connection", true
	case ReasonOverflow:
		return CloseCodeOverflow, "outbound queue overflow", true
	case ReasonJoinTimeout:
		return CloseCodeJoinTimeout, "join not received in time", true
	case ReasonIdleTimeout:
		return CloseCodeIdleTimeout, "idle timeout", true
	case ReasonShutdown:
		return websocket.CloseGoingAway, "server shutting down", true
	default:
		return 0, "", false
	}
}
