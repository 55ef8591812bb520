package audio

import (
	"context"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

// Player writes 16-bit mono PCM to the default output device.
type Player struct {
	framesPerBuf int
}

func NewPlayer() *Player {
	return &Player{framesPerBuf: DefaultFramesPerBuffer * 2}
}

// Play blocks until samples have been written or ctx is cancelled, in which
// case playback stops at the next buffer boundary.
func (p *Player) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if err := acquire(); err != nil {
		return err
	}
	defer release()

	buf := make([]int16, p.framesPerBuf)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeAudioDevice, "open output stream")
	}
	defer func() { _ = stream.Close() }()
	if err := stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeAudioDevice, "start output stream")
	}
	defer func() { _ = stream.Stop() }()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeAudioDevice, "write output stream")
		}
	}
	return nil
}
