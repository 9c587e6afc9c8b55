package transcription

import "fmt"

// ConnectionStatus describes the lifecycle of the streaming connection.
type ConnectionStatus int

const (
	// StatusDisconnected means no connection exists and none is being attempted.
	StatusDisconnected ConnectionStatus = iota

	// StatusConnecting means the initial WebSocket handshake is in flight.
	StatusConnecting

	// StatusConnected means the handshake completed but no audio has flowed yet.
	StatusConnected

	// StatusStreaming means audio chunks are being sent over the connection.
	StatusStreaming

	// StatusReconnecting means the connection dropped and a retry is pending
	// or in flight.
	StatusReconnecting

	// StatusFailed means the connection is down and will not be retried.
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusStreaming:
		return "streaming"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusUpdate is a snapshot of the connection state. Attempt is the 1-based
// reconnection attempt number and is only meaningful while reconnecting.
type StatusUpdate struct {
	Status  ConnectionStatus
	Attempt int
}

// StatusListener receives connection status changes.
type StatusListener func(StatusUpdate)
