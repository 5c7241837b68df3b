package relay

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mocklock/pkg/api"
)

func sampleReply() *api.Message {
	return api.NewReply("c-1", api.Mock(api.MockResponse{
		Status:     201,
		StatusText: "Created",
		Headers:    api.Headers{{Name: "Content-Type", Value: "application/json"}, {Name: "X-B", Value: "2"}},
		Body:       `{"id":1}`,
	}))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("CBOR")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	_, err = CodecByName("xml")
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestCodecs_PreserveMessage(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			enc := codec.NewEncoder(&buf)
			require.NoError(t, enc.Encode(sampleReply()))
			require.NoError(t, enc.Encode(api.NewGlobalStateChanged(false)))

			dec := codec.NewDecoder(&buf)
			var got api.Message
			require.NoError(t, dec.Decode(&got))
			assert.Equal(t, sampleReply(), &got)

			var note api.Message
			require.NoError(t, dec.Decode(&note))
			assert.Equal(t, api.KindGlobalStateChanged, note.Kind)
			require.NotNil(t, note.Enabled)
			assert.False(t, *note.Enabled)

			var eof api.Message
			assert.ErrorIs(t, dec.Decode(&eof), io.EOF)
		})
	}
}

func TestJSONCodec_NewlineDelimited(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONCodec{}.NewEncoder(&buf).Encode(api.NewRulesUpdated()))
	assert.Equal(t, "{\"kind\":\"RULES_UPDATED\"}\n", buf.String())
}

func TestCBORCodec_LengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CBORCodec{}.NewEncoder(&buf).Encode(api.NewRulesUpdated()))

	raw := buf.Bytes()
	require.Greater(t, len(raw), 4)
	assert.Equal(t, uint32(len(raw)-4), binary.BigEndian.Uint32(raw[:4]))
}

func TestCBORCodec_RejectsOversizedFrame(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)

	var msg api.Message
	err := CBORCodec{}.NewDecoder(bytes.NewReader(lenBuf[:])).Decode(&msg)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCBORCodec_TruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CBORCodec{}.NewEncoder(&buf).Encode(sampleReply()))
	truncated := buf.Bytes()[:buf.Len()-3]

	var msg api.Message
	err := CBORCodec{}.NewDecoder(bytes.NewReader(truncated)).Decode(&msg)
	require.ErrorIs(t, err, ErrDecode)
}

func TestJSONCodec_Garbage(t *testing.T) {
	var msg api.Message
	err := JSONCodec{}.NewDecoder(bytes.NewReader([]byte("{nope"))).Decode(&msg)
	require.ErrorIs(t, err, ErrDecode)
}
