// Package comms распределяет управляющие сообщения между процессами
// dactransmit и узлами кластера.
//
// Все соединения идут на один TCP порт. Каждый кадр это 4 байта длины
// (big-endian) и JSON конверт {"type": ..., "payload": ...}. Router
// читает первый кадр и отдает соединение обработчику его типа:
//
//	dactransmit.register  DacTransmitServer, процесс передачи группы
//	cluster.hello         ClusterServer, другой менеджер кластера
//	playlist.update       одноразовое уведомление о плейлисте
//	live.start            клиент прямого эфира
//
// Соединение с неизвестным типом закрывается. Менеджер не хранит аудио:
// состояние сессий остается у процесса, который держит DAC, а кластер
// знает только какие группы подключены на каком узле.
//
// LineTapServer отдает по websocket исходящий звук группы для прослушки.
package comms
