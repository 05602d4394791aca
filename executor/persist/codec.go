package persist

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses partition files for transfer to the remote store.
type Codec interface {
	Name() string
	// Ext is appended to remote keys, e.g. ".zst".
	Ext() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// CodecByName returns "zstd" (the default), "snappy", "lz4" or "none".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return zstdCodec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	case "none":
		return noneCodec{}, nil
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Ext() string { return ".zst" }

func (zstdCodec) Compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)/4)), nil
}

func (zstdCodec) Decompress(src []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, nil)
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Ext() string { return ".sz" }

func (snappyCodec) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Ext() string { return ".lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Ext() string { return "" }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noneCodec) Decompress(src []byte) ([]byte, error) { return src, nil }
