// Package compress provides the snapshot compression codecs. The algorithm
// byte travels inside the compression envelope, so the numeric values are
// part of the wire contract.
package compress

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a compression codec.
type Algorithm uint8

const (
	None Algorithm = iota
	Zlib
	Snappy
	Zstd
)

// ErrUnknownAlgorithm reports an algorithm value or name with no codec.
var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

// ParseAlgorithm resolves a config-file algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "zlib":
		return Zlib, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// zstd encoders hold large reusable buffers, so they are cached per level
// instead of rebuilt every tick.
var (
	zstdMu   sync.Mutex
	zstdEncs map[int]*zstd.Encoder

	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	zstdMu.Lock()
	defer zstdMu.Unlock()
	if enc, ok := zstdEncs[level]; ok {
		return enc, nil
	}
	opt := zstd.WithEncoderLevel(zstd.SpeedDefault)
	if level > 0 {
		opt = zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level))
	}
	enc, err := zstd.NewWriter(nil, opt)
	if err != nil {
		return nil, err
	}
	if zstdEncs == nil {
		zstdEncs = make(map[int]*zstd.Encoder)
	}
	zstdEncs[level] = enc
	return enc, nil
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})
	return zstdDec, zstdDecErr
}

func zlibLevel(level int) int {
	switch {
	case level <= 0:
		return zlib.DefaultCompression
	case level > zlib.BestCompression:
		return zlib.BestCompression
	default:
		return level
	}
}

// Compress encodes raw with the given algorithm. None returns raw untouched.
// Snappy has no level knob and ignores the argument. Any failure leaves the
// caller free to fall back to the uncompressed bytes.
func Compress(raw []byte, algo Algorithm, level int) ([]byte, error) {
	switch algo {
	case None:
		return raw, nil
	case Zlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlibLevel(level))
		if err != nil {
			return nil, fmt.Errorf("compress: zlib writer: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("compress: zlib write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress: zlib close: %w", err)
		}
		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, raw), nil
	case Zstd:
		enc, err := zstdEncoder(level)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd encoder: %w", err)
		}
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(algo))
	}
}

// Decompress reverses Compress. rawSize is the expected output length taken
// from the compression envelope; it pre-sizes buffers and is not trusted
// beyond that.
func Decompress(algo Algorithm, data []byte, rawSize int) ([]byte, error) {
	if rawSize < 0 {
		rawSize = 0
	}
	switch algo {
	case None:
		return data, nil
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compress: zlib reader: %w", err)
		}
		defer zr.Close()
		buf := bytes.NewBuffer(make([]byte, 0, rawSize))
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("compress: zlib read: %w", err)
		}
		return buf.Bytes(), nil
	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("compress: snappy decode: %w", err)
		}
		return out, nil
	case Zstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(algo))
	}
}
