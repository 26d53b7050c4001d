package command

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gx1727/mi7soft/mi7"
)

func TestThroughQueue(t *testing.T) {
	name := "mi7-test-command"
	_ = mi7.Unlink(name)
	q, err := mi7.Create(name, 4, 512)
	require.NoError(t, err)
	defer q.CloseAndUnlink()

	in := &Command{
		ID:      12,
		Kind:    HTTPRequest,
		Path:    "/orders/7",
		Method:  "POST",
		Body:    []byte(`{"qty":3}`),
		Headers: map[string]string{"Content-Type": "application/json"},
		Peer:    "10.0.0.1:5555",
	}
	m, err := ToMessage(in)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), m.ID)
	require.NoError(t, q.Send(m))

	got, err := q.TryReceive()
	require.NoError(t, err)
	out, err := FromMessage(got)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestFromMessageTakesID(t *testing.T) {
	m, err := ToMessage(&Command{Kind: MQTTPublish, Topic: "sensors/1", Payload: []byte{1, 2}})
	require.NoError(t, err)
	m.ID = 99

	c, err := FromMessage(m)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), c.ID)
	assert.Equal(t, "sensors/1", c.Topic)
}

func TestInvalid(t *testing.T) {
	_, err := ToMessage(&Command{Kind: "smtp"})
	assert.Error(t, err)

	_, err = FromMessage(&mi7.Message{ID: 1, Data: []byte("not json")})
	assert.Error(t, err)

	_, err = FromMessage(&mi7.Message{ID: 2, Data: []byte(`{"kind":"carrier_pigeon"}`)})
	assert.ErrorContains(t, err, "carrier_pigeon")
}
