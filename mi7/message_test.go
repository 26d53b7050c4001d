package mi7

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestProtoCodec(t *testing.T) {
	var c ProtoCodec
	for _, m := range []*Message{
		{},
		{ID: 7},
		{ID: 1 << 40, Data: []byte("hello"), Timestamp: 1700000000},
		{Data: make([]byte, 300), Timestamp: -5},
	} {
		b, err := c.Append(nil, m)
		require.NoError(t, err)
		var got Message
		require.NoError(t, c.Decode(b, &got))
		if len(m.Data) == 0 {
			got.Data = m.Data
		}
		if diff := cmp.Diff(*m, got); diff != "" {
			t.Errorf("decode mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestProtoCodecEmpty(t *testing.T) {
	b, err := ProtoCodec{}.Append(nil, &Message{})
	require.NoError(t, err)
	assert.Empty(t, b, "zero fields are omitted")

	_, err = ProtoCodec{}.Append(nil, nil)
	assert.Error(t, err)
}

func TestProtoCodecUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 10, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 0xdeadbeef)

	var m Message
	require.NoError(t, ProtoCodec{}.Decode(b, &m))
	assert.Equal(t, uint64(42), m.ID)
}

func TestProtoCodecMalformed(t *testing.T) {
	good, err := ProtoCodec{}.Append(nil, &Message{ID: 3, Data: []byte("payload")})
	require.NoError(t, err)

	var m Message
	assert.Error(t, ProtoCodec{}.Decode(good[:len(good)-2], &m), "truncated bytes field")
	assert.Error(t, ProtoCodec{}.Decode([]byte{0x08, 0xff}, &m), "truncated varint")
	assert.Error(t, ProtoCodec{}.Decode([]byte{0x00}, &m), "field number zero")
}

func TestDecodeCopiesData(t *testing.T) {
	b, err := ProtoCodec{}.Append(nil, &Message{Data: []byte("abc")})
	require.NoError(t, err)

	var m Message
	require.NoError(t, ProtoCodec{}.Decode(b, &m))
	for i := range b {
		b[i] = 0
	}
	assert.Equal(t, []byte("abc"), m.Data)
}
