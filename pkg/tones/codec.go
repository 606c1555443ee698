package tones

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

const (
	// SampleRate частота дискретизации всех сигналов DAC
	SampleRate = 8000

	// Silence байт тишины в μ-law (компандированный ноль)
	Silence byte = 0xFF

	compressClip = 32635
	ulawBias     = 0x84
)

// Codec определяет закон компандирования 16-битного PCM в 8 бит.
type Codec int

const (
	// CodecULaw G.711 μ-law (формат линии DAC)
	CodecULaw Codec = iota
	// CodecALaw G.711 A-law
	CodecALaw
)

// String возвращает строковое представление кодека
func (c Codec) String() string {
	switch c {
	case CodecULaw:
		return "ulaw"
	case CodecALaw:
		return "alaw"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// Compress сжимает один отсчет выбранным законом.
func (c Codec) Compress(sample int16) byte {
	if c == CodecALaw {
		return CompressALaw(sample)
	}
	return CompressULaw(sample)
}

// ulawExponent[i] = floor(log2(i)), ulawExponent[0] = 0
var ulawExponent = func() (table [256]byte) {
	for i := 1; i < len(table); i++ {
		table[i] = byte(bits.Len8(uint8(i)) - 1)
	}
	return table
}()

// alawExponent[i] = max(1, floor(log2(i))+1)
var alawExponent = func() (table [128]byte) {
	for i := range table {
		e := bits.Len8(uint8(i))
		if e == 0 {
			e = 1
		}
		table[i] = byte(e)
	}
	return table
}()

// CompressULaw преобразует 16-битный отсчет в байт μ-law.
// Амплитуда ограничивается порогом 32635 до преобразования.
func CompressULaw(sample int16) byte {
	s := int(sample)
	sign := (s >> 8) & 0x80
	if sign != 0 {
		s = -s
	}
	if s > compressClip {
		s = compressClip
	}
	s += ulawBias

	exponent := int(ulawExponent[(s>>7)&0xFF])
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// CompressALaw преобразует 16-битный отсчет в байт A-law.
func CompressALaw(sample int16) byte {
	s := int(sample)
	sign := ((^s) >> 8) & 0x80
	if sign == 0 {
		s = -s
	}
	if s > compressClip {
		s = compressClip
	}

	var compressed int
	if s >= 256 {
		exponent := int(alawExponent[(s>>8)&0x7F])
		mantissa := (s >> (exponent + 3)) & 0x0F
		compressed = (exponent<<4 | mantissa) & 0x7F
	} else {
		compressed = (s >> 4) & 0x7F
	}

	return byte(compressed ^ (sign ^ 0x55))
}

// CompressPCM сжимает буфер отсчетов целиком.
func CompressPCM(codec Codec, samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = codec.Compress(s)
	}
	return out
}

// CompressReader потоково сжимает little-endian PCM16.
// Каждый выходной байт потребляет два входных.
type CompressReader struct {
	src   io.Reader
	codec Codec
	buf   []byte
	// нечетный байт, оставшийся от предыдущего чтения
	pending    byte
	hasPending bool
}

// NewCompressReader создает потоковый компрессор поверх src
func NewCompressReader(src io.Reader, codec Codec) *CompressReader {
	return &CompressReader{src: src, codec: codec}
}

// Read заполняет p сжатыми отсчетами и возвращает число записанных байт.
// Возврат 0 вместе с io.EOF означает, что источник исчерпан.
func (r *CompressReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	need := len(p) * 2
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]

	filled := 0
	if r.hasPending {
		buf[0] = r.pending
		filled = 1
		r.hasPending = false
	}

	n, err := io.ReadAtLeast(r.src, buf[filled:], 1)
	filled += n

	produced := filled / 2
	for i := 0; i < produced; i++ {
		sample := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		p[i] = r.codec.Compress(sample)
	}
	if filled%2 == 1 {
		r.pending = buf[filled-1]
		r.hasPending = true
	}

	switch {
	case err == io.ErrUnexpectedEOF:
		err = nil
	case err == io.EOF && produced > 0:
		err = nil
	}
	if produced == 0 && err == nil {
		// неполный отсчет в конце потока отбрасывается при следующем EOF
		return r.Read(p)
	}
	return produced, err
}
