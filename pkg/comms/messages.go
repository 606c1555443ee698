package comms

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Типы сообщений протокола управления
const (
	MessageClusterHello       = "cluster.hello"
	MessageClusterState       = "cluster.state"
	MessageClusterShutdown    = "cluster.shutdown"
	MessageClusterConfigCheck = "cluster.config_check"
	MessageClusterHeartbeat   = "cluster.heartbeat"

	MessageDacTransmitRegister = "dactransmit.register"
	MessageDacTransmitStatus   = "dactransmit.status"
	MessageDacTransmitShutdown = "dactransmit.shutdown"
	MessageChangeTransmitters  = "dactransmit.change_transmitters"

	MessagePlaylistUpdate = "playlist.update"

	MessageLiveBroadcastStart = "live.start"
	MessageLiveBroadcastAudio = "live.audio"
	MessageLiveBroadcastStop  = "live.stop"
)

// IsLiveBroadcast относится ли тип к прямому эфиру
func IsLiveBroadcast(msgType string) bool {
	switch msgType {
	case MessageLiveBroadcastStart, MessageLiveBroadcastAudio, MessageLiveBroadcastStop:
		return true
	}
	return false
}

// Envelope самоописываемое сообщение: тип и полезная нагрузка JSON
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope упаковывает payload в конверт. nil payload дает пустую нагрузку.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("ошибка кодирования %s: %w", msgType, err)
	}
	env.Payload = data
	return env, nil
}

// Decode распаковывает полезную нагрузку в v
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, e.Type, err)
	}
	return nil
}

// ClusterHello первое сообщение соединения между менеджерами
type ClusterHello struct {
	HostID string `json:"host_id"`
}

// ClusterState группы передатчиков, подключенные к DAC на узле,
// и группы, которые узел запросил у кластера для балансировки
type ClusterState struct {
	Connected []string `json:"connected"`
	Requested []string `json:"requested,omitempty"`
}

func (s ClusterState) Contains(group string) bool {
	return slices.Contains(s.Connected, group)
}

func (s ClusterState) IsRequested(group string) bool {
	return slices.Contains(s.Requested, group)
}

func (s ClusterState) HasRequested() bool {
	return len(s.Requested) > 0
}

// Add добавляет группу, повтор игнорируется
func (s *ClusterState) Add(group string) {
	if !s.Contains(group) {
		s.Connected = append(s.Connected, group)
	}
}

func (s *ClusterState) Remove(group string) bool {
	i := slices.Index(s.Connected, group)
	if i < 0 {
		return false
	}
	s.Connected = slices.Delete(s.Connected, i, i+1)
	return true
}

func (s *ClusterState) AddRequested(group string) {
	if !s.IsRequested(group) {
		s.Requested = append(s.Requested, group)
	}
}

func (s *ClusterState) RemoveRequested(group string) {
	if i := slices.Index(s.Requested, group); i >= 0 {
		s.Requested = slices.Delete(s.Requested, i, i+1)
	}
	if len(s.Requested) == 0 {
		s.Requested = nil
	}
}

// Clone глубокая копия
func (s ClusterState) Clone() ClusterState {
	return ClusterState{
		Connected: slices.Clone(s.Connected),
		Requested: slices.Clone(s.Requested),
	}
}

// ClusterShutdown уведомление об остановке узла и подтверждение
type ClusterShutdown struct {
	Acknowledged bool `json:"acknowledged"`
}

// ClusterHeartbeat периодическое сообщение узла кластера
type ClusterHeartbeat struct {
	Host string `json:"host"`
}

// DacTransmitRegister регистрация процесса dactransmit у менеджера
type DacTransmitRegister struct {
	Group        string `json:"group"`
	Transmitters []int  `json:"transmitters"`
	DacAddress   string `json:"dac_address,omitempty"`
	DataPort     int    `json:"data_port,omitempty"`
}

// DacTransmitStatus состояние связи dactransmit с DAC
type DacTransmitStatus struct {
	ConnectedToDac bool `json:"connected_to_dac"`
}

// DacTransmitShutdown запрос остановки. Now=false дает доиграть текущий блок.
type DacTransmitShutdown struct {
	Now bool `json:"now"`
}

// ChangeTransmitters новый набор передатчиков группы
type ChangeTransmitters struct {
	Transmitters []int `json:"transmitters"`
}

// PlaylistUpdate в каталоге группы появился новый плейлист
type PlaylistUpdate struct {
	Group string `json:"group"`
	Path  string `json:"path"`
}

// LiveBroadcast сообщение прямого эфира. Audio заполняется только в live.audio.
type LiveBroadcast struct {
	BroadcastID string   `json:"broadcast_id"`
	Groups      []string `json:"groups"`
	Audio       []byte   `json:"audio,omitempty"`
}
