// Package audio captures microphone input through PortAudio.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// Init initializes PortAudio. Call the returned function on shutdown.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Mic wraps a mono PortAudio capture stream with a fixed buffer size.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewMic opens a PortAudio capture stream with the given sample rate and buffer size (in frames).
func NewMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream at %d Hz: %w", sampleRate, err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

func (m *Mic) Start() error { return m.stream.Start() }
func (m *Mic) Stop() error  { return m.stream.Stop() }
func (m *Mic) Close() error { return m.stream.Close() }

// Stream reads from the mic and writes PCM16-LE to w until an error or stop.
func (m *Mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2)
	for {
		if err := m.stream.Read(); err != nil {
			return err
		}
		if err := encodePCM(&out, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

// ReadFrame blocks for the next buffer and returns a copy of its samples.
func (m *Mic) ReadFrame() ([]int16, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	frame := make([]int16, len(m.buf))
	copy(frame, m.buf)
	return frame, nil
}

func encodePCM(out *bytes.Buffer, samples []int16) error {
	out.Reset()
	return binary.Write(out, binary.LittleEndian, samples)
}
