package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ashahealth/dictation-gateway/internal/config"
	"github.com/ashahealth/dictation-gateway/internal/observability"
	"github.com/ashahealth/dictation-gateway/internal/resilience"
)

// ErrNotConfigured is returned by Start when no transcription credential is
// present in the configuration.
var ErrNotConfigured = errors.New("transcription service is not configured")

// Client streams audio chunks to the transcription backend over a WebSocket
// and delivers transcription results on a channel. A dropped connection is
// retried with exponential backoff; authentication and audio format rejections
// are terminal.
type Client struct {
	config   *config.Config
	encoding string
	dialer   Dialer
	logger   zerolog.Logger

	results chan *Result

	mu       sync.RWMutex
	conn     Conn
	status   ConnectionStatus
	attempt  int
	isActive bool
	listener StatusListener

	// writeMu serializes frame writes; gorilla connections allow one
	// concurrent writer.
	writeMu sync.Mutex

	// resultsMu guards the results channel against a send racing Close.
	resultsMu     sync.RWMutex
	resultsClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient creates a streaming transcription client. The encoding names the
// negotiated audio format sent on the wire (for example "linear16" or "opus").
// A nil dialer selects the production WebSocket dialer.
func NewClient(cfg *config.Config, encoding string, dialer Dialer) *Client {
	if dialer == nil {
		dialer = NewDialer()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:   cfg,
		encoding: encoding,
		dialer:   dialer,
		logger:   observability.GetLogger().With().Str("component", "transcription").Logger(),
		results:  make(chan *Result, 100),
		status:   StatusDisconnected,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetStatusListener registers a callback for connection status changes.
// Must be called before Start.
func (c *Client) SetStatusListener(listener StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// Start opens the streaming connection and begins reading results.
func (c *Client) Start() error {
	if !c.config.TranscriptionConfigured() {
		return ErrNotConfigured
	}

	c.mu.RLock()
	active := c.isActive
	c.mu.RUnlock()
	if active {
		return fmt.Errorf("transcription client is already active")
	}

	return c.connect()
}

// streamURL builds the WebSocket URL with the transcription parameters.
func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.config.DeepgramURL)
	if err != nil {
		return "", fmt.Errorf("invalid transcription URL: %w", err)
	}

	q := u.Query()
	q.Set("model", c.config.DeepgramModel)
	q.Set("language", c.config.DeepgramLanguage)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("utterance_end_ms", strconv.Itoa(c.config.UtteranceEndMs))
	if c.encoding == "linear16" {
		// Raw PCM carries no container header, so the backend needs the
		// format spelled out. Containerized formats are self-describing.
		q.Set("encoding", c.encoding)
		q.Set("sample_rate", strconv.Itoa(c.config.SampleRate))
		q.Set("channels", strconv.Itoa(c.config.Channels))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// connect performs one connection attempt and, on success, starts the read
// and keep-alive loops for the new connection.
func (c *Client) connect() error {
	c.setStatus(StatusConnecting, 0)

	urlStr, err := c.streamURL()
	if err != nil {
		return resilience.Permanent(err)
	}

	// Credentials travel in the handshake subprotocol, never in the URL.
	conn, err := c.dialer.DialContext(c.ctx, urlStr, []string{"token", c.config.DeepgramAPIKey})
	if err != nil {
		observability.RecordConnectionFailure("connect")
		return fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isActive = true
	c.mu.Unlock()
	c.setStatus(StatusConnected, 0)

	go c.readLoop(conn)
	go c.keepAliveLoop(conn)

	c.logger.Info().
		Str("model", c.config.DeepgramModel).
		Str("language", c.config.DeepgramLanguage).
		Str("encoding", c.encoding).
		Msg("Transcription stream connected")

	return nil
}

// SendAudio writes one audio chunk as a binary frame.
func (c *Client) SendAudio(data []byte) error {
	c.mu.RLock()
	active := c.isActive
	conn := c.conn
	c.mu.RUnlock()

	if !active || conn == nil {
		return fmt.Errorf("transcription client is not active")
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	observability.RecordAudioBytesSent(int64(len(data)))

	c.mu.Lock()
	if c.status == StatusConnected {
		c.mu.Unlock()
		c.setStatus(StatusStreaming, 0)
	} else {
		c.mu.Unlock()
	}

	return nil
}

// Results returns the channel of transcription events. The channel is closed
// by Close.
func (c *Client) Results() <-chan *Result {
	return c.results
}

// Status returns the current connection status.
func (c *Client) Status() StatusUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return StatusUpdate{Status: c.status, Attempt: c.attempt}
}

// IsActive returns whether a connection is currently established.
func (c *Client) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}

// readLoop consumes frames from one connection until it breaks.
func (c *Client) readLoop(conn Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := parseServerMessage(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Discarding unparseable frame")
			continue
		}

		switch msg.Type {
		case msgTypeResults:
			if result := resultFromMessage(msg); result != nil {
				observability.RecordTranscriptionEvent(result.IsFinal)
				c.deliverResult(result)
			}

		case msgTypeMetadata:
			c.logger.Debug().Str("request_id", msg.RequestID).Msg("Stream metadata received")

		case msgTypeWarning:
			c.logger.Warn().Str("code", msg.Code).Str("description", msg.Description).Msg("Transcription warning")

		case msgTypeError:
			if c.handleServerError(conn, msg) {
				return
			}

		case msgTypeSpeechStart, msgTypeUtteranceEnd:
			c.logger.Debug().Str("event", msg.Type).Msg("Speech event")

		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Unknown message type")
		}
	}
}

// deliverResult hands a result to the consumer without blocking the read
// loop. Results arriving after Close are dropped.
func (c *Client) deliverResult(result *Result) {
	c.resultsMu.RLock()
	defer c.resultsMu.RUnlock()

	if c.resultsClosed {
		return
	}
	select {
	case c.results <- result:
	default:
		c.logger.Warn().Msg("Result channel full, dropping transcription")
	}
}

// handleServerError processes an Error frame. Returns true when the error is
// terminal and the read loop must exit.
func (c *Client) handleServerError(conn Conn, msg *ServerMessage) bool {
	if msg.Code == errCodeInvalidAuth {
		c.logger.Error().Str("description", msg.Description).Msg("Transcription credential rejected")
		observability.RecordConnectionFailure("auth")
		c.teardown(conn)
		c.setStatus(StatusFailed, 0)
		return true
	}

	c.logger.Error().
		Str("code", msg.Code).
		Str("description", msg.Description).
		Msg("Transcription service error")
	return false
}

// handleDisconnect classifies a broken connection and decides whether to retry.
func (c *Client) handleDisconnect(conn Conn, err error) {
	c.teardown(conn)

	// A deliberate Stop cancels the context before closing the socket.
	if c.ctx.Err() != nil {
		c.setStatus(StatusDisconnected, 0)
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway:
			c.setStatus(StatusDisconnected, 0)
			return

		case closeErr.Code == websocket.ClosePolicyViolation || containsCode(closeErr.Text, errCodeBadAudio):
			// The backend rejected the audio format. Retrying with the
			// same stream cannot succeed.
			c.logger.Error().Int("close_code", closeErr.Code).Str("reason", closeErr.Text).
				Msg("Audio format rejected by transcription service")
			observability.RecordConnectionFailure("audio_format")
			c.setStatus(StatusFailed, 0)
			return

		case closeErr.Code == websocket.CloseInternalServerErr || containsCode(closeErr.Text, errCodeNetTimeout):
			c.logger.Warn().Int("close_code", closeErr.Code).Str("reason", closeErr.Text).
				Msg("Transcription service closed the stream, reconnecting")
		}
	}

	observability.RecordConnectionFailure("midstream")
	c.logger.Warn().Err(err).Msg("Transcription stream lost")
	c.attemptReconnect()
}

// teardown closes one connection and clears it if it is still current.
func (c *Client) teardown(conn Conn) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.isActive = false
	}
	c.mu.Unlock()
}

// attemptReconnect retries the connection with exponential backoff. Exhausting
// the attempts marks the client failed.
func (c *Client) attemptReconnect() {
	select {
	case <-c.ctx.Done():
		c.setStatus(StatusDisconnected, 0)
		return
	default:
	}

	c.setStatus(StatusReconnecting, 1)

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
		OnAttempt: func(attempt int, waited time.Duration) {
			observability.RecordReconnectAttempt()
			c.setStatus(StatusReconnecting, attempt)
			c.logger.Info().
				Int("attempt", attempt).
				Dur("waited", waited).
				Msg("Reconnecting transcription stream")
		},
	}

	err := resilience.Reconnect(c.ctx, c.connect, reconnectConfig)
	if err == nil {
		c.logger.Info().Msg("Transcription stream reconnected")
		return
	}

	if errors.Is(err, context.Canceled) {
		c.setStatus(StatusDisconnected, 0)
		return
	}

	c.logger.Error().Err(err).Msg("Failed to reconnect transcription stream")
	c.setStatus(StatusFailed, 0)
}

// Stop ends the streaming session. The CloseStream control message is written
// before the close frame so the backend flushes any buffered audio into final
// results before the socket drops.
func (c *Client) Stop() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.isActive = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, encodeControl(msgTypeCloseStream)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send CloseStream")
		}
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteMessage(websocket.CloseMessage, closeFrame); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send close frame")
		}
		c.writeMu.Unlock()

		_ = conn.Close()
	}

	c.setStatus(StatusDisconnected, 0)
	return nil
}

// Close stops the session and releases the result channel.
func (c *Client) Close() error {
	err := c.Stop()

	c.closeOnce.Do(func() {
		go func() {
			// Give an in-flight read loop a moment to deliver what it
			// already parsed before the channel closes.
			time.Sleep(100 * time.Millisecond)
			c.resultsMu.Lock()
			c.resultsClosed = true
			close(c.results)
			c.resultsMu.Unlock()
		}()
	})

	return err
}

// keepAliveLoop sends periodic KeepAlive control messages on one connection
// so the backend does not time the stream out between audio chunks.
func (c *Client) keepAliveLoop(conn Conn) {
	ticker := time.NewTicker(c.config.KeepAlivePeriod())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.isActive && c.conn == conn
			c.mu.RUnlock()
			if !current {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, encodeControl(msgTypeKeepAlive))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Keep-alive write failed")
				return
			}
		}
	}
}

func (c *Client) setStatus(status ConnectionStatus, attempt int) {
	c.mu.Lock()
	if c.status == status && c.attempt == attempt {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.attempt = attempt
	listener := c.listener
	c.mu.Unlock()

	c.logger.Debug().Str("status", status.String()).Int("attempt", attempt).Msg("Connection status changed")

	if listener != nil {
		listener(StatusUpdate{Status: status, Attempt: attempt})
	}
}

func containsCode(text, code string) bool {
	return code != "" && strings.Contains(text, code)
}
