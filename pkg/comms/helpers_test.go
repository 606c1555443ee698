package comms

import (
	"errors"
	"net"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// tcpPair возвращает два конца loopback TCP соединения
func tcpPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "соединение не принято")

	a, b := NewConn(client), NewConn(server)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// freeAddr свободный loopback адрес
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type liveCall struct {
	env         Envelope
	fromCluster bool
}

// recordingEvents записывает события кластера и dactransmit
type recordingEvents struct {
	mu sync.Mutex

	connectedRemote    []string
	disconnectedRemote []string
	requested          [][]string
	reloads            int
	live               []liveCall
	connectedLocal     []string
	disconnectedLocal  []string

	remote     map[string]bool
	allRunning bool
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{remote: make(map[string]bool)}
}

func (e *recordingEvents) DacConnectedRemote(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectedRemote = append(e.connectedRemote, group)
}

func (e *recordingEvents) DacDisconnectedRemote(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnectedRemote = append(e.disconnectedRemote, group)
}

func (e *recordingEvents) DacRequestedRemote(groups []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requested = append(e.requested, slices.Clone(groups))
}

func (e *recordingEvents) ReloadConfig() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloads++
}

func (e *recordingEvents) ForwardLiveBroadcast(env Envelope, fromCluster bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = append(e.live, liveCall{env: env, fromCluster: fromCluster})
}

func (e *recordingEvents) AllGroupsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allRunning
}

func (e *recordingEvents) DacConnectedLocal(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectedLocal = append(e.connectedLocal, group)
}

func (e *recordingEvents) DacDisconnectedLocal(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnectedLocal = append(e.disconnectedLocal, group)
}

func (e *recordingEvents) IsConnectedRemote(group string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote[group]
}

func (e *recordingEvents) snapshot() recordingEvents {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recordingEvents{
		connectedRemote:    slices.Clone(e.connectedRemote),
		disconnectedRemote: slices.Clone(e.disconnectedRemote),
		requested:          slices.Clone(e.requested),
		reloads:            e.reloads,
		live:               slices.Clone(e.live),
		connectedLocal:     slices.Clone(e.connectedLocal),
		disconnectedLocal:  slices.Clone(e.disconnectedLocal),
	}
}
