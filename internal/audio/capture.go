// Package audio handles microphone capture and speaker playback
package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

const (
	DefaultFramesPerBuffer = 512 // 32ms at 16kHz
	DefaultChunkBuffer     = 64
)

// Chunk represents a captured audio chunk.
type Chunk struct {
	Data      []float32
	Device    string
	Timestamp int64
}

// Capturer records mono float32 audio from the best available microphone.
// Chunks are dropped rather than blocking the device when the consumer lags.
type Capturer struct {
	outCh        chan Chunk
	sampleRate   int
	framesPerBuf int
	excludedDevs []string

	mu      sync.Mutex
	current *deviceCapture
}

type deviceCapture struct {
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewCapturer creates a capturer. Devices whose name contains any of
// excludedDevices (case-insensitive) are never selected.
func NewCapturer(sampleRate, bufferSize int, excludedDevices []string) *Capturer {
	if bufferSize <= 0 {
		bufferSize = DefaultChunkBuffer
	}
	return &Capturer{
		outCh:        make(chan Chunk, bufferSize),
		sampleRate:   sampleRate,
		framesPerBuf: DefaultFramesPerBuffer,
		excludedDevs: excludedDevices,
	}
}

// SampleRate returns the capture rate in Hz.
func (c *Capturer) SampleRate() int { return c.sampleRate }

// Output returns the channel for receiving audio chunks.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start opens the microphone. Calling Start while capturing is a no-op.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return nil
	}

	if err := acquire(); err != nil {
		return err
	}
	dev, err := c.pickDevice()
	if err != nil {
		release()
		return err
	}
	dc, err := c.startDevice(ctx, dev)
	if err != nil {
		release()
		return apperrors.Wrapf(err, apperrors.CodeAudioDevice, "open %s", dev.Name)
	}
	c.current = dc
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate)
	return nil
}

// Stop closes the microphone and waits for the reader to exit.
func (c *Capturer) Stop() {
	c.mu.Lock()
	dc := c.current
	c.current = nil
	c.mu.Unlock()
	if dc == nil {
		return
	}
	dc.stop()
	<-dc.done
	release()
}

func (c *Capturer) pickDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAudioDevice, "list audio devices")
	}
	if dev := SelectMicrophone(devices, c.excludedDevs); dev != nil {
		return dev, nil
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAudioDevice, "no usable microphone")
	}
	return dev, nil
}

func (c *Capturer) startDevice(ctx context.Context, dev *portaudio.DeviceInfo) (*deviceCapture, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.framesPerBuf,
	}

	buf := make([]float32, c.framesPerBuf)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	devCtx, cancel := context.WithCancel(ctx)
	dc := &deviceCapture{stream: stream, cancel: cancel, done: make(chan struct{})}
	name := dev.Name

	go func() {
		defer close(dc.done)
		defer dc.stop()
		for devCtx.Err() == nil {
			if err := stream.Read(); err != nil {
				if devCtx.Err() == nil {
					slog.Debug("audio read error", "device", name, "error", err)
				}
				return
			}
			chunk := Chunk{
				Data:      append([]float32(nil), buf...),
				Device:    name,
				Timestamp: time.Now().UnixNano(),
			}
			select {
			case c.outCh <- chunk:
			default:
				slog.Debug("audio buffer full, dropping chunk", "device", name)
			}
		}
	}()
	return dc, nil
}

func (d *deviceCapture) stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		_ = d.stream.Stop()
		_ = d.stream.Close()
	})
}

// SelectMicrophone picks the preferred input device: built-in microphones
// first, then anything that looks like a microphone. Loopback devices and
// excluded names are skipped. Returns nil when nothing qualifies.
func SelectMicrophone(devices []*portaudio.DeviceInfo, excluded []string) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 || matchesAny(dev.Name, excluded) {
			continue
		}
		if !isMicrophone(dev.Name) {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	return best
}

var (
	loopbackKeywords  = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	micKeywords       = []string{"microphone", "input", "mic", "built-in"}
	preferredKeywords = []string{"macbook", "built-in"}
)

func isMicrophone(name string) bool {
	return !matchesAny(name, loopbackKeywords) && matchesAny(name, micKeywords)
}

func preferDevice(name, current string) bool {
	for _, p := range preferredKeywords {
		if containsFold(name, p) && !containsFold(current, p) {
			return true
		}
	}
	return false
}

func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if containsFold(name, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
