// Package audioconv decodes audio files into mono float32 PCM at a chosen
// sample rate.
package audioconv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/pekim/opus"
)

const DefaultSampleRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Format string

const (
	WAV    Format = "wav"
	MP3    Format = "mp3"
	Vorbis Format = "ogg/vorbis"
	Opus   Format = "ogg/opus"
)

type Options struct {
	// SampleRate is the output rate; zero means 16 kHz.
	SampleRate int
	// MaxSamples truncates the output; zero keeps everything.
	MaxSamples int
}

// clip is decoder output before conversion: interleaved samples.
type clip struct {
	data     []float32
	rate     int
	channels int
}

var decoders = map[Format]func(io.ReadSeeker) (clip, error){
	WAV:    readWAV,
	MP3:    readMP3,
	Vorbis: readVorbis,
	Opus:   readOpus,
}

// DecodeFile reads path, converts it to mono and resamples it.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, 36)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	format, err := Detect(path, header[:n])
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := decoders[format](f)
	if err != nil {
		return nil, fmt.Errorf("decode %s as %s: %w", path, format, err)
	}

	rate := opt.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	out := Resample(Downmix(c.data, c.channels), c.rate, rate)
	if opt.MaxSamples > 0 && len(out) > opt.MaxSamples {
		out = out[:opt.MaxSamples]
	}
	return out, nil
}

// Detect names the format of a file from its extension, falling back to the
// leading bytes. Ogg files are told apart by their first packet.
func Detect(path string, header []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return WAV, nil
	case ".mp3":
		return MP3, nil
	case ".opus":
		return Opus, nil
	case ".ogg", ".oga":
		return oggCodec(header), nil
	}

	switch {
	case bytes.HasPrefix(header, []byte("RIFF")):
		return WAV, nil
	case bytes.HasPrefix(header, []byte("OggS")):
		return oggCodec(header), nil
	case bytes.HasPrefix(header, []byte("ID3")),
		len(header) > 1 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return MP3, nil
	}
	return "", fmt.Errorf("%w: %s (want wav, mp3, ogg vorbis or ogg opus)", ErrUnsupported, path)
}

// The first ogg page header is 27 bytes plus a one-entry segment table, so
// the codec magic starts at 28.
func oggCodec(header []byte) Format {
	if len(header) >= 36 && string(header[28:36]) == "OpusHead" {
		return Opus
	}
	return Vorbis
}

func readWAV(r io.ReadSeeker) (clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return clip{}, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return clip{}, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return clip{}, errors.New("wav has no samples")
	}

	c := clip{rate: int(dec.SampleRate), channels: int(dec.NumChans)}
	if f := buf.Format; f != nil {
		if f.SampleRate > 0 {
			c.rate = f.SampleRate
		}
		if f.NumChannels > 0 {
			c.channels = f.NumChannels
		}
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	c.data = IntToFloat32(buf.Data, depth)
	return c, nil
}

// go-mp3 always produces 16-bit little endian stereo.
func readMP3(r io.ReadSeeker) (clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return clip{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return clip{}, err
	}
	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return clip{}, err
	}
	return clip{data: Int16ToFloat32(ints), rate: dec.SampleRate(), channels: 2}, nil
}

func readVorbis(r io.ReadSeeker) (clip, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return clip{}, err
	}
	if format == nil || format.SampleRate <= 0 {
		return clip{}, errors.New("vorbis stream without format")
	}
	return clip{data: data, rate: format.SampleRate, channels: format.Channels}, nil
}

// Opus always decodes at 48 kHz.
func readOpus(r io.ReadSeeker) (clip, error) {
	dec, err := opus.NewDecoder(r)
	if err != nil {
		return clip{}, err
	}
	defer dec.Destroy()

	channels := max(dec.ChannelCount(), 1)
	c := clip{rate: 48000, channels: channels}
	buf := make([]int16, 5760*channels) // 120 ms, the longest opus frame
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			c.data = append(c.data, Int16ToFloat32(buf[:n*channels])...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return clip{}, err
		}
	}
	if len(c.data) == 0 {
		return clip{}, errors.New("opus stream has no samples")
	}
	return c, nil
}
