package dacsession

import "time"

// EventType тип события сессии
type EventType int

const (
	EventStateChanged EventType = iota
	EventStatusReceived
	EventLostSync
	EventRegainedSync
	EventSendFailed
	EventUnitStarted
	EventUnitFinished
	EventMalformedStatus
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "StateChanged"
	case EventStatusReceived:
		return "StatusReceived"
	case EventLostSync:
		return "LostSync"
	case EventRegainedSync:
		return "RegainedSync"
	case EventSendFailed:
		return "SendFailed"
	case EventUnitStarted:
		return "UnitStarted"
	case EventUnitFinished:
		return "UnitFinished"
	case EventMalformedStatus:
		return "MalformedStatus"
	default:
		return "Unknown"
	}
}

// Event событие сессии. Заполняются только поля, относящиеся к Type.
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time

	// StateChanged
	From State
	To   State

	// StatusReceived: Report=true если статус существенно изменился
	Status *DacStatus
	Report bool

	// RegainedSync
	Downtime time.Duration
	Restart  bool

	// UnitStarted / UnitFinished
	UnitID      string
	UnitKind    UnitKind
	Started     time.Time
	Interrupted bool

	// SendFailed / MalformedStatus
	Err error
}

// Listener получатель событий. Вызывается синхронно из горутин сессии
// и не должен блокироваться.
type Listener func(Event)
