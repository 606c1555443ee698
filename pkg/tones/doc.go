// Package tones синтезирует звуковые последовательности для вещательного DAC.
//
// Пакет содержит все, что нужно для получения u-law потока 8 кГц, который
// понимает приемник SAME:
//
//   - Codec - G.711 компандирование (μ-law и A-law), включая потоковый вариант
//   - Generator - синусоидальные тоны с непрерывной фазой
//   - AFSKEncoder - двухтональная FSK модуляция битового потока SAME
//   - StaticTones - лениво построенный неизменяемый кэш статических сигналов
//     (преамбула, паузы, тон оповещения, конец сообщения, тоны переключения)
//
// # Быстрый старт
//
//	static := tones.NewStaticTones(tones.DefaultGenerator())
//	header, err := static.Assemble("ZCZC-WXR-TOR-029165+0030-1051700-KEAX/NWS-", true, true)
//	if err != nil {
//	    return err
//	}
//	eom, _ := static.EndOfMessageTones()
//
// Кэш создается явно и передается потребителям; глобального состояния нет.
package tones
