// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Values decoded into any become map[string]any rather than
		// map[any]any.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Encoder and Decoder are the fxamacker stream types.
type (
	Encoder    = cbor.Encoder
	Decoder    = cbor.Decoder
	RawMessage = cbor.RawMessage
)

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v. Unknown struct fields are ignored.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func NewEncoder(w io.Writer) *Encoder { return encMode.NewEncoder(w) }
func NewDecoder(r io.Reader) *Decoder { return decMode.NewDecoder(r) }

// Diagnose renders data in CBOR diagnostic notation. The admin CLI
// uses it for --raw output.
func Diagnose(data []byte) (string, error) { return cbor.Diagnose(data) }

// DurationSeconds carries a duration on the wire as whole seconds.
type DurationSeconds int64

// Duration converts back to time.Duration.
func (d DurationSeconds) Duration() time.Duration { return time.Duration(d) * time.Second }

// Seconds converts a duration, truncating sub-second precision.
func Seconds(d time.Duration) DurationSeconds { return DurationSeconds(d / time.Second) }
