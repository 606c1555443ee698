package comms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ КЛИЕНТА DACTRANSMIT ===

func TestClient_RegisterStatusAndShutdown(t *testing.T) {
	fromClient := make(chan Envelope, 16)
	serverConns := make(chan *Conn, 4)
	r := startRouter(t, func(r *Router) {
		require.NoError(t, r.Register(MessageDacTransmitRegister, HandlerFunc(func(conn *Conn, first Envelope) bool {
			fromClient <- first
			serverConns <- conn
			go func() {
				defer conn.Close()
				for {
					env, err := conn.Receive()
					if err != nil {
						return
					}
					fromClient <- env
				}
			}()
			return true
		})))
	})

	fromManager := make(chan Envelope, 16)
	client := NewClient(ClientConfig{
		Address:           r.Addr().String(),
		Register:          DacTransmitRegister{Group: "north", Transmitters: []int{1}},
		ReconnectInterval: 50 * time.Millisecond,
	}, func(env Envelope) { fromManager <- env }, nil)

	assert.ErrorIs(t, client.SendStatus(true), ErrNotConnected, "статус запоминается до подключения")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	next := func() Envelope {
		select {
		case env := <-fromClient:
			return env
		case <-time.After(2 * time.Second):
			t.Fatal("нет сообщения от клиента")
			return Envelope{}
		}
	}

	reg := next()
	require.Equal(t, MessageDacTransmitRegister, reg.Type)
	var register DacTransmitRegister
	require.NoError(t, reg.Decode(&register))
	assert.Equal(t, "north", register.Group)

	status := next()
	require.Equal(t, MessageDacTransmitStatus, status.Type, "запомненный статус отправлен после регистрации")
	var st DacTransmitStatus
	require.NoError(t, status.Decode(&st))
	assert.True(t, st.ConnectedToDac)

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, client.SendStatus(false))
	status = next()
	require.NoError(t, status.Decode(&st))
	assert.False(t, st.ConnectedToDac)

	serverConn := <-serverConns
	require.NoError(t, serverConn.Send(MessagePlaylistUpdate, PlaylistUpdate{Group: "north", Path: "/p.yaml"}))
	select {
	case env := <-fromManager:
		assert.Equal(t, MessagePlaylistUpdate, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("сообщение менеджера не доставлено обработчику")
	}

	cancel()
	<-done
	assert.Equal(t, MessageDacTransmitShutdown, next().Type, "остановка клиента уведомляет менеджер")
	assert.False(t, client.Connected())
}

func TestClient_Reconnect(t *testing.T) {
	registrations := make(chan *Conn, 4)
	r := startRouter(t, func(r *Router) {
		require.NoError(t, r.Register(MessageDacTransmitRegister, HandlerFunc(func(conn *Conn, _ Envelope) bool {
			registrations <- conn
			return true
		})))
	})

	client := NewClient(ClientConfig{
		Address:           r.Addr().String(),
		Register:          DacTransmitRegister{Group: "north"},
		ReconnectInterval: 20 * time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var first *Conn
	select {
	case first = <-registrations:
	case <-time.After(2 * time.Second):
		t.Fatal("клиент не зарегистрировался")
	}
	require.NoError(t, first.Close())

	select {
	case second := <-registrations:
		defer second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("клиент не переподключился")
	}
}
