package dacsim

import (
	"fmt"

	"github.com/pion/rtp"

	dacrtp "github.com/arzzra/dac_transmit/pkg/rtp"
)

const (
	rebroadcastPayloadType = 121
	// rebroadcastTimestampStep шаг метки времени потока ретрансляции, мс за цикл
	rebroadcastTimestampStep = 20
)

// Rebroadcaster строит пакеты потока ретрансляции: заголовок RTP без
// расширений и нагрузки всех выходов подряд.
type Rebroadcaster struct {
	sequence  uint16
	timestamp uint32
	ssrc      uint32
}

// NewRebroadcaster создает поток со случайным SSRC
func NewRebroadcaster() (*Rebroadcaster, error) {
	ssrc, err := dacrtp.RandomSSRC()
	if err != nil {
		return nil, fmt.Errorf("не удалось сгенерировать SSRC ретрансляции: %w", err)
	}
	return &Rebroadcaster{ssrc: ssrc}, nil
}

// Build строит следующий пакет из результатов цикла
func (r *Rebroadcaster) Build(results []EmitResult) ([]byte, error) {
	payload := make([]byte, 0, len(results)*dacrtp.PayloadSize)
	for _, res := range results {
		payload = append(payload, res.Payload...)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rebroadcastPayloadType,
			SequenceNumber: r.sequence,
			Timestamp:      r.timestamp,
			SSRC:           r.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга пакета ретрансляции: %w", err)
	}

	r.sequence++
	r.timestamp += rebroadcastTimestampStep
	return data, nil
}
