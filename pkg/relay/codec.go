package relay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
)

// MaxFrameSize bounds a single length-prefixed frame.
const MaxFrameSize = 4 << 20

// Encoder writes messages to a stream.
type Encoder interface {
	Encode(msg *api.Message) error
}

// Decoder reads messages from a stream.
type Decoder interface {
	Decode(msg *api.Message) error
}

// Codec frames messages on a byte stream.
type Codec interface {
	Name() string
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, errx.With(ErrUnknownCodec, " %q", name)
	}
}

// JSONCodec frames messages as newline-delimited JSON.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) NewEncoder(w io.Writer) Encoder {
	return jsonEncoder{enc: json.NewEncoder(w)}
}

func (JSONCodec) NewDecoder(r io.Reader) Decoder {
	return jsonDecoder{dec: json.NewDecoder(r)}
}

type jsonEncoder struct{ enc *json.Encoder }

func (e jsonEncoder) Encode(msg *api.Message) error {
	if err := e.enc.Encode(msg); err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	return nil
}

type jsonDecoder struct{ dec *json.Decoder }

func (d jsonDecoder) Decode(msg *api.Message) error {
	if err := d.dec.Decode(msg); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errx.Wrap(ErrDecode, err)
	}
	return nil
}

// CBORCodec frames messages as a 4-byte big-endian length followed by a
// CBOR body.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) NewEncoder(w io.Writer) Encoder {
	return &cborEncoder{w: w}
}

func (CBORCodec) NewDecoder(r io.Reader) Decoder {
	return &cborDecoder{r: bufio.NewReader(r)}
}

type cborEncoder struct{ w io.Writer }

func (e *cborEncoder) Encode(msg *api.Message) error {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	if len(data) > MaxFrameSize {
		return errx.With(ErrFrameTooLarge, ": %d bytes", len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)
	if _, err := e.w.Write(frame); err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	return nil
}

type cborDecoder struct{ r io.Reader }

func (d *cborDecoder) Decode(msg *api.Message) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errx.Wrap(ErrDecode, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return errx.With(ErrFrameTooLarge, ": %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return errx.Wrap(ErrDecode, err)
	}
	if err := cbor.Unmarshal(data, msg); err != nil {
		return errx.Wrap(ErrDecode, err)
	}
	return nil
}
