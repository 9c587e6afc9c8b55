package transcription

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashahealth/dictation-gateway/internal/config"
)

type wireFrame struct {
	msgType int
	data    []byte
}

// fakeConn scripts inbound frames and records everything written to it.
type fakeConn struct {
	inbound chan wireFrame
	readErr chan error
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []wireFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan wireFrame, 16),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.msgType, f.data, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(msgType int, data []byte) error {
	select {
	case <-c.done:
		return errors.New("use of closed network connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, wireFrame{msgType: msgType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) serverSends(raw string) {
	c.inbound <- wireFrame{msgType: websocket.TextMessage, data: []byte(raw)}
}

func (c *fakeConn) failRead(err error) {
	c.readErr <- err
}

func (c *fakeConn) writtenFrames() []wireFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wireFrame(nil), c.writes...)
}

type dialOutcome struct {
	conn *fakeConn
	err  error
}

// fakeDialer pops a scripted outcome per dial and records handshake details.
type fakeDialer struct {
	mu           sync.Mutex
	outcomes     []dialOutcome
	dials        int
	lastURL      string
	lastProtocol []string
}

func (d *fakeDialer) DialContext(_ context.Context, urlStr string, subprotocols []string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.lastURL = urlStr
	d.lastProtocol = append([]string(nil), subprotocols...)

	if len(d.outcomes) == 0 {
		return nil, errors.New("no scripted dial outcome")
	}
	outcome := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	return outcome.conn, outcome.err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// statusRecorder collects status updates for assertions.
type statusRecorder struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (r *statusRecorder) listen(u StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *statusRecorder) snapshot() []StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusUpdate(nil), r.updates...)
}

func testConfig() *config.Config {
	return &config.Config{
		DeepgramAPIKey:       "test-key",
		DeepgramURL:          "wss://example.test/v1/listen",
		DeepgramModel:        "nova-2",
		DeepgramLanguage:     "en-US",
		SampleRate:           16000,
		Channels:             1,
		KeepAliveInterval:    8,
		ReconnectMaxAttempts: 2,
		ReconnectBackoff:     1,
		UtteranceEndMs:       1000,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestClient_StartNotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.DeepgramAPIKey = ""
	client := NewClient(cfg, "linear16", &fakeDialer{})

	if err := client.Start(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if client.Status().Status != StatusDisconnected {
		t.Errorf("Expected disconnected status, got %v", client.Status().Status)
	}
}

func TestClient_ConnectSendsParamsAndCredential(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(dialer.lastProtocol) != 2 || dialer.lastProtocol[0] != "token" || dialer.lastProtocol[1] != "test-key" {
		t.Errorf("Expected credential in subprotocol, got %v", dialer.lastProtocol)
	}
	if strings.Contains(dialer.lastURL, "test-key") {
		t.Error("Credential must not appear in the URL")
	}

	u, err := url.Parse(dialer.lastURL)
	if err != nil {
		t.Fatalf("Dialed URL is invalid: %v", err)
	}
	q := u.Query()
	expected := map[string]string{
		"model":            "nova-2",
		"language":         "en-US",
		"punctuate":        "true",
		"interim_results":  "true",
		"smart_format":     "true",
		"diarize":          "true",
		"utterance_end_ms": "1000",
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"channels":         "1",
	}
	for key, want := range expected {
		if got := q.Get(key); got != want {
			t.Errorf("Query param %s: got %q, want %q", key, got, want)
		}
	}

	if client.Status().Status != StatusConnected {
		t.Errorf("Expected connected status, got %v", client.Status().Status)
	}
}

func TestClient_ContainerFormatOmitsRawParams(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "opus", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	u, _ := url.Parse(dialer.lastURL)
	if u.Query().Get("encoding") != "" || u.Query().Get("sample_rate") != "" {
		t.Errorf("Container format should omit encoding params, got %q", u.RawQuery)
	}
}

func TestClient_DeliversResults(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.serverSends(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"patient is","confidence":0.8}]}}`)
	conn.serverSends(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"patient is stable","confidence":0.95}]}}`)

	interim := <-client.Results()
	if interim.Text != "patient is" || interim.IsFinal {
		t.Errorf("Unexpected interim result: %+v", interim)
	}

	final := <-client.Results()
	if final.Text != "patient is stable" || !final.IsFinal {
		t.Errorf("Unexpected final result: %+v", final)
	}
}

func TestClient_SendAudioMarksStreaming(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	if client.Status().Status != StatusStreaming {
		t.Errorf("Expected streaming status, got %v", client.Status().Status)
	}

	frames := conn.writtenFrames()
	if len(frames) != 1 || frames[0].msgType != websocket.BinaryMessage {
		t.Fatalf("Expected one binary frame, got %+v", frames)
	}
}

func TestClient_SendAudioWhenInactive(t *testing.T) {
	client := NewClient(testConfig(), "linear16", &fakeDialer{})
	if err := client.SendAudio([]byte{1}); err == nil {
		t.Error("Expected error sending audio before Start")
	}
}

func TestClient_StopSendsCloseStreamBeforeCloseFrame(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	frames := conn.writtenFrames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames on stop, got %d", len(frames))
	}
	if frames[0].msgType != websocket.TextMessage || !strings.Contains(string(frames[0].data), "CloseStream") {
		t.Errorf("First frame should be CloseStream, got %+v", frames[0])
	}
	if frames[1].msgType != websocket.CloseMessage {
		t.Errorf("Second frame should be the close frame, got type %d", frames[1].msgType)
	}

	if client.Status().Status != StatusDisconnected {
		t.Errorf("Expected disconnected status, got %v", client.Status().Status)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("Stop must not trigger a reconnect, got %d dials", dialer.dialCount())
	}
}

func TestClient_ReconnectsAfterStreamLoss(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn1}, {conn: conn2}}}
	recorder := &statusRecorder{}

	client := NewClient(testConfig(), "linear16", dialer)
	client.SetStatusListener(recorder.listen)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn1.failRead(&websocket.CloseError{Code: websocket.CloseInternalServerErr, Text: "NET-0001"})

	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() == 2 && client.Status().Status == StatusConnected
	})

	var sawReconnecting bool
	for _, u := range recorder.snapshot() {
		if u.Status == StatusReconnecting && u.Attempt == 1 {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Error("Expected a reconnecting status update with attempt 1")
	}

	// The new connection must keep delivering results.
	conn2.serverSends(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"resumed","confidence":0.9}]}}`)
	result := <-client.Results()
	if result.Text != "resumed" {
		t.Errorf("Expected result from new connection, got %+v", result)
	}
}

func TestClient_ReconnectExhaustionFails(t *testing.T) {
	conn1 := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{conn: conn1},
		{err: errors.New("dial refused")},
		{err: errors.New("dial refused")},
	}}
	recorder := &statusRecorder{}

	client := NewClient(testConfig(), "linear16", dialer)
	client.SetStatusListener(recorder.listen)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn1.failRead(errors.New("connection reset"))

	waitFor(t, "failed status", func() bool {
		return client.Status().Status == StatusFailed
	})
	if dialer.dialCount() != 3 {
		t.Errorf("Expected 1 initial + 2 retry dials, got %d", dialer.dialCount())
	}

	attempts := map[int]bool{}
	for _, u := range recorder.snapshot() {
		if u.Status == StatusReconnecting {
			attempts[u.Attempt] = true
		}
	}
	if !attempts[1] || !attempts[2] {
		t.Errorf("Expected reconnect attempts 1 and 2 to be reported, got %v", attempts)
	}
}

func TestClient_AudioFormatRejectionDoesNotRetry(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.failRead(&websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "DATA-0000"})

	waitFor(t, "failed status", func() bool {
		return client.Status().Status == StatusFailed
	})
	if dialer.dialCount() != 1 {
		t.Errorf("Audio format rejection must not be retried, got %d dials", dialer.dialCount())
	}
}

func TestClient_InvalidAuthIsTerminal(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)
	defer client.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.serverSends(`{"type":"Error","code":"INVALID_AUTH","description":"invalid credentials"}`)

	waitFor(t, "failed status", func() bool {
		return client.Status().Status == StatusFailed
	})
	if dialer.dialCount() != 1 {
		t.Errorf("Credential rejection must not be retried, got %d dials", dialer.dialCount())
	}
}

func TestClient_StopDuringBackoffCancelsRetry(t *testing.T) {
	conn1 := newFakeConn()
	// Only the initial dial is scripted; retries would fail if attempted.
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn1}}}
	cfg := testConfig()
	cfg.ReconnectBackoff = 60000 // park the retry loop in its first wait

	client := NewClient(cfg, "linear16", dialer)
	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn1.failRead(errors.New("connection reset"))
	waitFor(t, "reconnecting status", func() bool {
		return client.Status().Status == StatusReconnecting
	})

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	waitFor(t, "disconnected status", func() bool {
		return client.Status().Status == StatusDisconnected
	})
	if dialer.dialCount() != 1 {
		t.Errorf("Cancelled backoff must not dial again, got %d dials", dialer.dialCount())
	}
}

func TestClient_ResultAfterCloseIsDropped(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	client := NewClient(testConfig(), "linear16", dialer)

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	waitFor(t, "result channel to close", func() bool {
		select {
		case _, ok := <-client.Results():
			return !ok
		default:
			return false
		}
	})

	// A read loop descheduled across Close must drop its result, not panic.
	client.deliverResult(&Result{Text: "late", IsFinal: true})
}
