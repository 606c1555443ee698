package dacsession

import (
	"context"

	"github.com/looplab/fsm"
)

// State состояние сессии передачи
type State string

const (
	StateIdle         State = "idle"
	StateStreaming    State = "streaming"
	StatePaused       State = "paused"
	StateDegraded     State = "degraded"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

func (s State) String() string {
	return string(s)
}

// События автомата
const (
	eventAssign     = "assign"
	eventPause      = "pause"
	eventResume     = "resume"
	eventLoseSync   = "lose_sync"
	eventRegainSync = "regain_sync"
	eventShutdown   = "shutdown"
	eventFinish     = "finish"
	eventTerminate  = "terminate"
)

// newStateMachine автомат сессии:
//
//	idle -> streaming <-> paused
//	streaming <-> degraded
//	idle|streaming|paused|degraded -> shutting_down -> terminated
//	любое кроме terminated -> terminated (немедленная остановка)
func newStateMachine(onChange func(from, to State)) *fsm.FSM {
	active := []string{string(StateIdle), string(StateStreaming), string(StatePaused), string(StateDegraded)}

	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventAssign, Src: []string{string(StateIdle)}, Dst: string(StateStreaming)},
			{Name: eventPause, Src: []string{string(StateStreaming), string(StateDegraded)}, Dst: string(StatePaused)},
			{Name: eventResume, Src: []string{string(StatePaused)}, Dst: string(StateStreaming)},
			{Name: eventLoseSync, Src: []string{string(StateStreaming)}, Dst: string(StateDegraded)},
			{Name: eventRegainSync, Src: []string{string(StateDegraded)}, Dst: string(StateStreaming)},
			{Name: eventShutdown, Src: active, Dst: string(StateShuttingDown)},
			{Name: eventFinish, Src: []string{string(StateShuttingDown)}, Dst: string(StateTerminated)},
			{Name: eventTerminate, Src: append(active, string(StateShuttingDown)), Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if onChange != nil && e.Src != e.Dst {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
