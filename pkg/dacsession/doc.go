// Package dacsession реализует сессию передачи аудио в DAC.
//
// Сессия владеет одним подключением к DAC: порт данных принимает кадры
// rtp.Packet, управляющий порт обменивается сообщениями синхронизации.
//
// # Состояния
//
//	idle ──assign──► streaming ◄──resume── paused
//	                  │  ▲    └───pause───►
//	         lose_sync│  │regain_sync
//	                  ▼  │
//	                degraded
//
//	idle|streaming|paused|degraded ──shutdown──► shutting_down ──finish──► terminated
//	любое ──terminate──► terminated
//
// # Темп отправки
//
// До первого статуса DAC кадры уходят каждые InitialCycleTime. Далее период
// зависит от заполнения jitter буфера: не ниже WatermarkPackets обычный
// CycleTime, иначе 100ms/(разница+5), чтобы буфер догнал отметку до
// следующего статуса.
//
// # Синхронизация
//
// Без статуса дольше SyncTimeout сессия сообщает LostSync и переходит в
// degraded, передача стоит. Первый статус после потери дает RegainedSync;
// если простой не меньше RestartThreshold, текущий блок начинается заново.
//
// Пример:
//
//	s, err := dacsession.NewSession(cfg, dataTransport, controlTransport,
//		dacsession.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	s.AddListener(func(ev dacsession.Event) { ... })
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	s.AssignPlaylist(dacsession.NewToneUnit("alert", audio))
//	...
//	s.Shutdown(false)
//	s.Wait()
package dacsession
