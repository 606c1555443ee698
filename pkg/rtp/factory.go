package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Factory строит кадры. Значения, не заданные явно, проверяются в Create.
//
//	f := rtp.NewFactory()
//	pkt, err := f.SetSequenceNumber(0).SetTimestamp(0).
//		AddTransmitter(1).SetCurrentPayload(chunk).Create()
//
// Factory не потокобезопасна.
type Factory struct {
	sequenceNumber uint16
	sequenceSet    bool
	timestamp      uint32
	timestampSet   bool
	ssrc           uint32
	ssrcSet        bool

	transmitters TransmitterMask
	err          error

	previousPayload []byte
	currentPayload  []byte
}

// NewFactory создает пустую фабрику
func NewFactory() *Factory {
	return &Factory{}
}

// FromPacket копирует состояние кадра в фабрику.
// При copyPayloads=false полезные нагрузки не переносятся.
func (f *Factory) FromPacket(p *Packet, copyPayloads bool) *Factory {
	f.SetSequenceNumber(p.SequenceNumber)
	f.SetTimestamp(p.Timestamp)
	f.SetSSRC(p.SSRC)
	f.SetTransmitters(p.Transmitters)
	if copyPayloads {
		f.previousPayload = append([]byte(nil), p.PreviousPayload...)
		f.currentPayload = append([]byte(nil), p.CurrentPayload...)
	} else {
		f.previousPayload = nil
		f.currentPayload = nil
	}
	return f
}

func (f *Factory) SetSequenceNumber(seq uint16) *Factory {
	f.sequenceNumber = seq
	f.sequenceSet = true
	return f
}

// IncrementSequenceNum увеличивает номер по модулю 65536
func (f *Factory) IncrementSequenceNum(n uint16) *Factory {
	f.sequenceNumber += n
	return f
}

func (f *Factory) SetTimestamp(ts uint32) *Factory {
	f.timestamp = ts
	f.timestampSet = true
	return f
}

// IncrementTimestamp увеличивает метку времени по модулю 2^32
func (f *Factory) IncrementTimestamp(n uint32) *Factory {
	f.timestamp += n
	return f
}

func (f *Factory) SetSSRC(ssrc uint32) *Factory {
	f.ssrc = ssrc
	f.ssrcSet = true
	return f
}

// AddTransmitter добавляет передатчик 1..4. Ошибка номера откладывается до Create.
func (f *Factory) AddTransmitter(tx int) *Factory {
	m, err := NewTransmitterMask(tx)
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		return f
	}
	f.transmitters |= m
	return f
}

func (f *Factory) SetTransmitters(m TransmitterMask) *Factory {
	f.transmitters = m & 0x0F
	return f
}

func (f *Factory) SetPreviousPayload(payload []byte) *Factory {
	f.previousPayload = payload
	return f
}

func (f *Factory) SetCurrentPayload(payload []byte) *Factory {
	f.currentPayload = payload
	return f
}

// Create проверяет состояние и строит кадр.
// Без SSRC выбирается случайный, без предыдущей нагрузки подставляется тишина.
func (f *Factory) Create() (*Packet, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.sequenceSet {
		return nil, newFrameError(ErrorCodeSequenceUnset, "sequence_number", "номер последовательности не задан")
	}
	if !f.timestampSet {
		return nil, newFrameError(ErrorCodeTimestampUnset, "timestamp", "метка времени не задана")
	}
	if f.transmitters.Empty() {
		return nil, newFrameError(ErrorCodeNoTransmitters, "transmitters", "не выбран ни один передатчик")
	}
	if f.currentPayload == nil {
		return nil, newFrameError(ErrorCodeMissingPayload, "current_payload", "текущая нагрузка не задана")
	}

	if !f.ssrcSet {
		ssrc, err := RandomSSRC()
		if err != nil {
			return nil, fmt.Errorf("не удалось сгенерировать SSRC: %w", err)
		}
		f.SetSSRC(ssrc)
	}

	previous := f.previousPayload
	if previous == nil {
		previous = SilencePayload()
	}

	p := &Packet{
		SequenceNumber:  f.sequenceNumber,
		Timestamp:       f.timestamp,
		SSRC:            f.ssrc,
		Transmitters:    f.transmitters,
		PreviousPayload: previous,
		CurrentPayload:  f.currentPayload,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Successor строит следующий кадр потока: текущая нагрузка prev становится
// предыдущей, номер +1, метка времени +PayloadSize.
// Нулевая маска transmitters сохраняет адресацию prev.
func Successor(prev *Packet, payload []byte, transmitters TransmitterMask) (*Packet, error) {
	f := NewFactory().FromPacket(prev, false).
		IncrementSequenceNum(1).
		IncrementTimestamp(PayloadSize).
		SetPreviousPayload(prev.CurrentPayload).
		SetCurrentPayload(payload)
	if !transmitters.Empty() {
		f.SetTransmitters(transmitters)
	}
	return f.Create()
}

// RandomSSRC возвращает криптографически случайный идентификатор источника
func RandomSSRC() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
