// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob packs byte payloads into self-describing compressed
// frames for storage. A frame is one tag byte, the uncompressed length
// as a uvarint, then the payload. Payloads that do not shrink are
// stored uncompressed, so Pack never grows data by more than the
// header.
//
// The store compresses raw message payloads with zstd; authstore
// compresses session key blobs with lz4 before sealing them.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression of a frame.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

// MaxSize bounds the uncompressed size Unpack will allocate.
const MaxSize = 64 << 20

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

var errIncompressible = errors.New("blob: incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxSize))
	if err != nil {
		panic("blob: zstd decoder: " + err.Error())
	}
}

// Pack compresses data with tag and frames it.
func Pack(data []byte, tag Tag) ([]byte, error) {
	var payload []byte
	var err error
	switch tag {
	case None:
		payload = data
	case LZ4:
		payload, err = compressLZ4(data)
	case Zstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("blob: unsupported tag %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		tag, payload, err = None, data, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	frame[0] = byte(tag)
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Unpack reverses Pack.
func Unpack(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, errors.New("blob: frame too short")
	}
	tag := Tag(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, errors.New("blob: bad length header")
	}
	if size > MaxSize {
		return nil, fmt.Errorf("blob: frame declares %d bytes, limit %d", size, MaxSize)
	}
	payload := frame[1+n:]

	switch tag {
	case None:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("blob: stored payload is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case LZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("blob: lz4: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("blob: lz4 produced %d bytes, header says %d", read, size)
		}
		return out, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("blob: zstd produced %d bytes, header says %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("blob: unsupported tag %d", tag)
	}
}

// TagOf reports the compression recorded in a frame.
func TagOf(frame []byte) Tag {
	if len(frame) == 0 {
		return None
	}
	return Tag(frame[0])
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: lz4: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return out[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
