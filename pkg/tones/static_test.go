package tones

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTones_AssembleLength(t *testing.T) {
	st := NewStaticTones(nil)

	tests := []struct {
		name                   string
		includeAlert           bool
		includeTrailingSilence bool
		want                   int
	}{
		// 3×(1966+614) + 2×8000 + 16000 + 72000 + 32000
		{"С оповещением и тишиной", true, true, 143740},
		{"Только оповещение", true, false, 111740},
		{"Только тишина", false, true, 55740},
		{"Без хвоста", false, false, 23740},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := st.Assemble("ABCDE", tt.includeAlert, tt.includeTrailingSilence)
			require.NoError(t, err)
			assert.Len(t, buf, tt.want)
		})
	}
}

func TestStaticTones_AssembleLayout(t *testing.T) {
	st := NewStaticTones(nil)

	buf, err := st.Assemble("ABCDE", true, true)
	require.NoError(t, err)

	preamble := st.preamble
	header, err := st.AFSK().EncodeSAME("ABCDE")
	require.NoError(t, err)

	block := append(append([]byte{}, preamble...), header...)
	pause := bytes.Repeat([]byte{Silence}, SilenceBetweenPreambles)

	offset := 0
	for i := 0; i < 3; i++ {
		assert.Equal(t, block, buf[offset:offset+len(block)], "блок %d", i)
		offset += len(block)
		if i < 2 {
			assert.Equal(t, pause, buf[offset:offset+len(pause)], "пауза %d", i)
			offset += len(pause)
		}
	}

	beforeAlert := buf[offset : offset+SilenceBeforeAlert]
	assert.Equal(t, bytes.Repeat([]byte{Silence}, SilenceBeforeAlert), beforeAlert)
	offset += SilenceBeforeAlert

	alert, err := st.OnlyAlertTones()
	require.NoError(t, err)
	assert.Equal(t, alert, buf[offset:], "хвост совпадает с тоном оповещения и паузой")
}

func TestStaticTones_Deterministic(t *testing.T) {
	a, err := NewStaticTones(nil).Assemble("ZCZC-WXR-TOR-029165+0030-1051700-KEAX/NWS-", true, true)
	require.NoError(t, err)
	b, err := NewStaticTones(nil).Assemble("ZCZC-WXR-TOR-029165+0030-1051700-KEAX/NWS-", true, true)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestStaticTones_ReturnsCopies(t *testing.T) {
	st := NewStaticTones(nil)

	eom, err := st.EndOfMessageTones()
	require.NoError(t, err)
	for i := range eom {
		eom[i] = 0
	}

	again, err := st.EndOfMessageTones()
	require.NoError(t, err)
	assert.Equal(t, Silence, again[0], "кэш не должен меняться через возвращенный буфер")
}

func TestStaticTones_EndOfMessage(t *testing.T) {
	st := NewStaticTones(nil)

	eom, err := st.EndOfMessageTones()
	require.NoError(t, err)
	// 16000 + 3×(1966+492) + 2×8000
	assert.Len(t, eom, 39374)
	assert.Equal(t, bytes.Repeat([]byte{Silence}, SilenceAfterMessage), eom[:SilenceAfterMessage])
}

func TestStaticTones_OnlyAlert(t *testing.T) {
	alert, err := NewStaticTones(nil).OnlyAlertTones()
	require.NoError(t, err)
	assert.Len(t, alert, 72000+32000)
}

func TestStaticTones_TransferTones(t *testing.T) {
	st := NewStaticTones(nil)

	p2s, err := st.TransferTones(PrimaryToSecondary)
	require.NoError(t, err)
	s2p, err := st.TransferTones(SecondaryToPrimary)
	require.NoError(t, err)

	require.Len(t, p2s, 80000)
	require.Len(t, s2p, 80000)
	assert.Equal(t, p2s[:40000], s2p[40000:], "основной тон одинаков в обоих порядках")
	assert.Equal(t, p2s[40000:], s2p[:40000])

	_, err = st.TransferTones(TransferType(7))
	assert.Error(t, err)
}

func TestStaticTones_EmptyHeader(t *testing.T) {
	_, err := NewStaticTones(nil).Assemble("   ", true, true)
	assert.ErrorIs(t, err, ErrEmptySAME)
}

func TestStaticTones_ConcurrentBuild(t *testing.T) {
	st := NewStaticTones(nil)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := st.Assemble("ABCDE", true, false)
			assert.NoError(t, err)
			results[i] = buf
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
	}
}
