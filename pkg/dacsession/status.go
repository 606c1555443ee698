package dacsession

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Управляющие сообщения канала DAC
const (
	ClearBufferMessage = "5000"
	InitialSyncMessage = "01000"
	HeartbeatMessage   = "00000"
	// RejectMessage ответ DAC хосту, который не держит синхронизацию
	RejectMessage = "X----"

	statusIndicator   = '0'
	statusSeparator   = ","
	statusTokenCount  = 10
	noVoltage         = "----"
	JitterBufferSlots = 256
	NumberOfRadios    = 4
)

// VoiceStatus состояние голосового выхода канала DAC
type VoiceStatus int

const (
	VoiceSilence     VoiceStatus = 0
	VoiceIPAudio     VoiceStatus = 1
	VoiceMaintenance VoiceStatus = 2
)

func (v VoiceStatus) String() string {
	switch v {
	case VoiceSilence:
		return "SILENCE"
	case VoiceIPAudio:
		return "IP_AUDIO"
	case VoiceMaintenance:
		return "MAINTENANCE"
	default:
		return fmt.Sprintf("VoiceStatus(%d)", int(v))
	}
}

// DacStatus разобранное сообщение о состоянии DAC
type DacStatus struct {
	PSU1Voltage         float64 // NaN если блок питания отключен
	PSU2Voltage         float64
	BufferSize          int // пакетов в jitter буфере, 0..255
	BufferWrapped       bool
	OutputGain          [NumberOfRadios]float64
	VoiceStatus         [NumberOfRadios]VoiceStatus
	RecoverableErrors   int
	UnrecoverableErrors int
	Raw                 string
	ReceivedAt          time.Time
}

// ParseDacStatus разбирает сообщение "0psu1,psu2,buffer,g1,g2,g3,g4,vvvv,rec,unrec".
// Последний символ значения напряжения (единица измерения) отбрасывается.
func ParseDacStatus(raw string) (*DacStatus, error) {
	if raw == "" || raw[0] != statusIndicator {
		return nil, newMalformedStatus(raw, "сообщение не является статусом DAC", nil)
	}

	tokens := strings.Split(raw[1:], statusSeparator)
	if len(tokens) != statusTokenCount {
		return nil, newMalformedStatus(raw, fmt.Sprintf("получено %d полей вместо %d", len(tokens), statusTokenCount), nil)
	}

	st := &DacStatus{Raw: raw, ReceivedAt: time.Now()}

	var err error
	if st.PSU1Voltage, err = parseVoltage(tokens[0]); err != nil {
		return nil, newMalformedStatus(raw, "напряжение PSU 1", err)
	}
	if st.PSU2Voltage, err = parseVoltage(tokens[1]); err != nil {
		return nil, newMalformedStatus(raw, "напряжение PSU 2", err)
	}

	size, err := strconv.Atoi(tokens[2])
	if err != nil {
		return nil, newMalformedStatus(raw, "размер jitter буфера", err)
	}
	if size < 0 || size >= JitterBufferSlots {
		st.BufferWrapped = true
		size = ((size % JitterBufferSlots) + JitterBufferSlots) % JitterBufferSlots
	}
	st.BufferSize = size

	for i := 0; i < NumberOfRadios; i++ {
		if st.OutputGain[i], err = strconv.ParseFloat(tokens[3+i], 64); err != nil {
			return nil, newMalformedStatus(raw, fmt.Sprintf("усиление радио %d", i+1), err)
		}
	}

	voice := tokens[7]
	if len(voice) < NumberOfRadios {
		return nil, newMalformedStatus(raw, "голосовой статус", fmt.Errorf("длина %d", len(voice)))
	}
	for i := 0; i < NumberOfRadios; i++ {
		code, err := strconv.Atoi(voice[i : i+1])
		if err != nil {
			return nil, newMalformedStatus(raw, "голосовой статус", err)
		}
		st.VoiceStatus[i] = VoiceStatus(code)
	}

	if st.RecoverableErrors, err = strconv.Atoi(tokens[8]); err != nil {
		return nil, newMalformedStatus(raw, "исправимые ошибки", err)
	}
	if st.UnrecoverableErrors, err = strconv.Atoi(strings.TrimSpace(tokens[9])); err != nil {
		return nil, newMalformedStatus(raw, "неисправимые ошибки", err)
	}

	return st, nil
}

func parseVoltage(token string) (float64, error) {
	if token == noVoltage {
		return math.NaN(), nil
	}
	if token == "" {
		return 0, fmt.Errorf("пустое значение")
	}
	return strconv.ParseFloat(token[:len(token)-1], 64)
}

// FormatDacStatus строит сообщение о состоянии в формате DAC.
// Напряжение NaN кодируется как "----".
func FormatDacStatus(st *DacStatus) string {
	var b strings.Builder
	b.WriteByte(statusIndicator)
	b.WriteString(formatVoltage(st.PSU1Voltage))
	b.WriteString(statusSeparator)
	b.WriteString(formatVoltage(st.PSU2Voltage))
	b.WriteString(statusSeparator)
	b.WriteString(strconv.Itoa(st.BufferSize))
	for _, g := range st.OutputGain {
		b.WriteString(statusSeparator)
		b.WriteString(strconv.FormatFloat(g, 'f', 1, 64))
	}
	b.WriteString(statusSeparator)
	for _, v := range st.VoiceStatus {
		b.WriteString(strconv.Itoa(int(v)))
	}
	b.WriteString(statusSeparator)
	b.WriteString(strconv.Itoa(st.RecoverableErrors))
	b.WriteString(statusSeparator)
	b.WriteString(strconv.Itoa(st.UnrecoverableErrors))
	return b.String()
}

func formatVoltage(v float64) string {
	if math.IsNaN(v) {
		return noVoltage
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + "V"
}

// PSUOnline true если блок питания n (1 или 2) выдает напряжение
func (s *DacStatus) PSUOnline(n int) bool {
	if n == 1 {
		return !math.IsNaN(s.PSU1Voltage)
	}
	return !math.IsNaN(s.PSU2Voltage)
}

// BufferAlert true если заполнение буфера вне допустимого диапазона
func (s *DacStatus) BufferAlert(low, high int) bool {
	return s.BufferSize <= low || s.BufferSize >= high
}

// NeedsReport решает нужно ли сообщать о статусе наружу.
// Первый статус сообщается всегда, далее только при изменениях:
// блоки питания, выход буфера за пороги, ошибки пакетов, голосовой
// статус одного из передатчиков сессии.
func (s *DacStatus) NeedsReport(prev *DacStatus, transmitters []int, low, high int) bool {
	if prev == nil {
		return true
	}
	if s.PSUOnline(1) != prev.PSUOnline(1) || s.PSUOnline(2) != prev.PSUOnline(2) {
		return true
	}
	if s.BufferAlert(low, high) || prev.BufferAlert(low, high) {
		return true
	}
	if s.RecoverableErrors > 0 || s.UnrecoverableErrors > 0 {
		return true
	}
	for _, tx := range transmitters {
		if tx < 1 || tx > NumberOfRadios {
			continue
		}
		if s.VoiceStatus[tx-1] != prev.VoiceStatus[tx-1] {
			return true
		}
	}
	return false
}
