// Package rtp реализует кадр аудио DAC и его транспорт.
//
// Кадр имеет фиксированный размер PacketSize (340 байт):
//
//	 0                   1                   2                   3
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| 0x90          | 0x79 (PT 121) |       sequence number         |
//	|                           timestamp                           |
//	|                             SSRC                              |
//	|      profile 0x0067           |       length 0x0001           |
//	|                addressing (младшие 4 бита)                    |
//	|              previous payload (160 байт μ-law)                |
//	|              current payload (160 байт μ-law)                 |
//
// Бит i поля адресации соответствует передатчику i+1. Предыдущая нагрузка
// повторяется в каждом кадре, чтобы DAC мог восполнить один потерянный кадр.
//
// Кадры строятся через Factory:
//
//	first, err := rtp.NewFactory().
//		SetSequenceNumber(0).
//		SetTimestamp(0).
//		AddTransmitter(1).
//		SetCurrentPayload(chunk).
//		Create()
//	next, err := rtp.Successor(first, nextChunk, 0)
//
// Сериализация заголовка выполняется через github.com/pion/rtp.
package rtp
