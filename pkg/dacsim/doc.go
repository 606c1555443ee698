// Package dacsim реализует программный симулятор DAC.
//
// Каждый входной канал слушает пару UDP портов: данные p и управление p+1.
// Канал принимает синхронизацию от одного хоста ("01000"), поддерживает
// ее по heartbeat ("00000") и теряет после SyncTimeout без сообщений.
// Другим хостам отвечает отказом "X----". Синхронизированному хосту
// канал каждые HeartbeatInterval отправляет свой статус.
//
// Кадры от хоста с синхронизацией попадают в jitter буфер канала. Каждые
// CycleTime вещатель извлекает по одному пакету из готовых буферов и
// раздает нагрузку адресованным выходам; каждый выход за цикл выдает
// ровно одну нагрузку:
//
//	ничего не получено   -> тишина, OutcomeSilence
//	получена одна        -> она, OutcomeDelivered
//	получено несколько   -> первая, OutcomeDroppedContention
//
// Результат цикла отправляется потоком ретрансляции: заголовок RTP и
// нагрузки всех выходов подряд.
package dacsim
