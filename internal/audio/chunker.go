package audio

import (
	"fmt"
	"sync"
	"time"
)

// Chunk is one timeslice of encoded audio ready for the wire.
type Chunk struct {
	Data   []byte
	Format Format
}

// ChunkSink receives chunks as they are produced.
type ChunkSink func(Chunk)

// Chunker pulls frames from an acquired device and emits encoded chunks on a
// fixed timeslice. A chunker is single-use: once stopped it cannot be
// restarted, a new instance is required per recording.
type Chunker struct {
	device    Device
	format    Format
	timeslice time.Duration
	buffer    *RingBuffer
	detector  *ActivityDetector

	mu       sync.Mutex
	started  bool
	stopped  bool
	speaking bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewChunker negotiates an encoding format and prepares a chunker over the
// given device. Returns ErrNoSupportedFormat if negotiation fails.
func NewChunker(device Device, provider CapabilityProvider, preferences []Format, timeslice time.Duration) (*Chunker, error) {
	format, err := NegotiateFormat(provider, preferences)
	if err != nil {
		return nil, err
	}

	if timeslice <= 0 {
		timeslice = 250 * time.Millisecond
	}

	constraints := device.Constraints()
	// Buffer two timeslices of PCM so a late tick never drops samples.
	bufSize := constraints.SampleRate * constraints.Channels * 2 * 2 * int(timeslice/time.Millisecond) / 1000
	if bufSize < 4096 {
		bufSize = 4096
	}

	return &Chunker{
		device:    device,
		format:    format,
		timeslice: timeslice,
		buffer:    NewRingBuffer(bufSize),
		detector:  NewActivityDetector(nil),
		done:      make(chan struct{}),
	}, nil
}

// Format returns the negotiated encoding format.
func (c *Chunker) Format() Format {
	return c.format
}

// Start begins producing chunks into the sink until Stop is called.
func (c *Chunker) Start(sink ChunkSink) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrChunkerReused
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("chunker is already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.device.Start(); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readFrames()
	go c.emitChunks(sink)
	return nil
}

// readFrames pumps device frames into the ring buffer.
func (c *Chunker) readFrames() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		frame, err := c.device.ReadFrame()
		if err != nil {
			// Device read failures end the stream; the session controller
			// notices when chunks stop arriving and tears down.
			return
		}

		speaking := c.detector.ProcessFrame(frame)
		c.mu.Lock()
		c.speaking = speaking
		c.mu.Unlock()

		c.buffer.Write(PCM16Bytes(frame))
	}
}

// emitChunks drains the ring buffer on each timeslice tick.
func (c *Chunker) emitChunks(sink ChunkSink) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			// Flush whatever is left so trailing speech is not lost.
			if data := c.buffer.Drain(); len(data) > 0 {
				sink(Chunk{Data: data, Format: c.format})
			}
			return
		case <-ticker.C:
			data := c.buffer.Drain()
			if len(data) == 0 {
				// Empty timeslice is a no-op, not an error.
				continue
			}
			sink(Chunk{Data: data, Format: c.format})
		}
	}
}

// Speaking reports whether the capture path currently detects speech.
func (c *Chunker) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Stop halts chunk production. Idempotent.
func (c *Chunker) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}
