package voice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/stream"
)

// source yields Opus packets for one track. Next returns io.EOF at the end.
type source interface {
	Next() ([]byte, error)
	Close()
}

// pcmSource decodes with ffmpeg and encodes each 20 ms frame with libopus.
type pcmSource struct {
	pcm     *stream.PCMStreamer
	enc     *stream.Encoder
	r       *bufio.Reader
	frame   []byte
	pending [][]byte
}

func openPCMSource(ffmpegPath string) func(ctx context.Context, p *player.Playable) (source, error) {
	return func(ctx context.Context, p *player.Playable) (source, error) {
		pcm, err := stream.StartPCM(ctx, ffmpegPath, p.Source)
		if err != nil {
			return nil, err
		}
		enc, err := stream.NewEncoder()
		if err != nil {
			pcm.Close()
			return nil, err
		}
		return &pcmSource{
			pcm:   pcm,
			enc:   enc,
			r:     bufio.NewReaderSize(pcm.Stdout(), 128*1024),
			frame: make([]byte, enc.FrameBytes()),
		}, nil
	}
}

func (s *pcmSource) Next() ([]byte, error) {
	for len(s.pending) == 0 {
		if _, err := io.ReadFull(s.r, s.frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read pcm: %w", err)
		}
		if err := s.enc.EncodeFrame(s.frame, func(pkt []byte) error {
			s.pending = append(s.pending, append([]byte(nil), pkt...))
			return nil
		}); err != nil {
			return nil, err
		}
	}
	pkt := s.pending[0]
	s.pending = s.pending[1:]
	return pkt, nil
}

func (s *pcmSource) Close() {
	s.pcm.Close()
	s.enc.Close()
}
