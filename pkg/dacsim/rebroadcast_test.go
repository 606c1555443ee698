package dacsim

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dacrtp "github.com/arzzra/dac_transmit/pkg/rtp"
)

// === ТЕСТЫ ПОТОКА РЕТРАНСЛЯЦИИ ===

func TestRebroadcaster_Build(t *testing.T) {
	rb, err := NewRebroadcaster()
	require.NoError(t, err)

	b := NewBroadcaster(2, []*JitterBuffer{NewJitterBuffer(1)}, nil)
	var prev *rtp.Packet
	for i := 0; i < 3; i++ {
		data, err := rb.Build(b.Cycle())
		require.NoError(t, err)
		assert.Len(t, data, 12+2*dacrtp.PayloadSize)

		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(data))
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint8(rebroadcastPayloadType), pkt.PayloadType)
		assert.False(t, pkt.Extension)
		assert.Len(t, pkt.Payload, 2*dacrtp.PayloadSize)

		if prev != nil {
			assert.Equal(t, prev.SequenceNumber+1, pkt.SequenceNumber)
			assert.Equal(t, prev.Timestamp+rebroadcastTimestampStep, pkt.Timestamp)
			assert.Equal(t, prev.SSRC, pkt.SSRC)
		} else {
			assert.Zero(t, pkt.SequenceNumber)
			assert.Zero(t, pkt.Timestamp)
		}
		prev = pkt
	}
}

func TestRebroadcaster_PayloadOrder(t *testing.T) {
	rb, err := NewRebroadcaster()
	require.NoError(t, err)

	buf := NewJitterBuffer(1)
	b := NewBroadcaster(2, []*JitterBuffer{buf}, nil)
	buf.Add(packetWith(0x42, 0x02))

	data, err := rb.Build(b.Cycle())
	require.NoError(t, err)

	pkt := &rtp.Packet{}
	require.NoError(t, pkt.Unmarshal(data))
	assert.Equal(t, dacrtp.SilencePayload(), pkt.Payload[:dacrtp.PayloadSize], "первый выход молчит")
	assert.Equal(t, packetWith(0x42, 0).Payload, pkt.Payload[dacrtp.PayloadSize:], "второй выход звучит")
}
