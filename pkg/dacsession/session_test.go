package dacsession

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/dac_transmit/pkg/playback"
	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// === ТЕСТОВАЯ ИНФРАСТРУКТУРА ===

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeControl управляющий канал DAC в памяти
type fakeControl struct {
	mu       sync.Mutex
	sent     []string
	statuses chan string
}

func newFakeControl() *fakeControl {
	return &fakeControl{statuses: make(chan string, 64)}
}

func (f *fakeControl) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeControl) SendTo(data []byte, _ net.Addr) error { return f.Send(data) }

func (f *fakeControl) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case msg := <-f.statuses:
		return []byte(msg), nil, nil
	case <-time.After(5 * time.Millisecond):
		return nil, nil, timeoutError{}
	}
}

func (f *fakeControl) LocalAddr() net.Addr  { return nil }
func (f *fakeControl) RemoteAddr() net.Addr { return nil }
func (f *fakeControl) Close() error         { return nil }
func (f *fakeControl) IsActive() bool       { return true }

func (f *fakeControl) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// feed отправляет статусы с заданным буфером, пока не вызвана остановка
func (f *fakeControl) feed(buffer int) (stop func()) {
	raw := FormatDacStatus(&DacStatus{PSU1Voltage: 12, PSU2Voltage: 12, BufferSize: buffer})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case f.statuses <- raw:
				default:
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// fakeSender собирает отправленные кадры
type fakeSender struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	fail    bool
}

func (f *fakeSender) SendPacket(p *rtp.Packet) error {
	if _, err := p.Encode(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("сеть недоступна")
	}
	f.packets = append(f.packets, p)
	return nil
}

func (f *fakeSender) Packets() []*rtp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*rtp.Packet(nil), f.packets...)
}

func (f *fakeSender) SetFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

// eventLog собирает события сессии
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []playback.Entry
}

func (r *memoryRecorder) Record(_ context.Context, e playback.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) Entries() []playback.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]playback.Entry(nil), r.entries...)
}

func testConfig() Config {
	c := DefaultConfig()
	c.Group = "test"
	c.Transmitters = []int{1, 3}
	c.CycleTime = 2 * time.Millisecond
	c.InitialCycleTime = time.Millisecond
	c.HeartbeatInterval = 5 * time.Millisecond
	c.SyncTimeout = 60 * time.Millisecond
	c.RestartThreshold = 150 * time.Millisecond
	return c
}

type harness struct {
	session  *Session
	sender   *fakeSender
	control  *fakeControl
	events   *eventLog
	recorder *memoryRecorder
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	h := &harness{
		sender:   &fakeSender{},
		control:  newFakeControl(),
		events:   &eventLog{},
		recorder: &memoryRecorder{},
	}
	s, err := NewSession(config, h.sender, h.control, WithRecorder(h.recorder))
	require.NoError(t, err)
	s.AddListener(h.events.listen)
	h.session = s
	t.Cleanup(func() {
		_ = s.Shutdown(true)
		s.Wait()
	})
	return h
}

func audio(n int, value byte) []byte {
	return bytes.Repeat([]byte{value}, n)
}

const waitFor = 2 * time.Second

// === ТЕСТЫ СЕССИИ ===

func TestNewSession_InvalidConfig(t *testing.T) {
	c := testConfig()
	c.Transmitters = nil

	_, err := NewSession(c, &fakeSender{}, newFakeControl())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSession(testConfig(), nil, newFakeControl())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSession_StartSynchronizes(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	assert.Error(t, h.session.Start(context.Background()), "повторный запуск запрещен")

	require.Eventually(t, func() bool {
		return len(h.control.Sent()) >= 4
	}, waitFor, time.Millisecond)

	sent := h.control.Sent()
	assert.Equal(t, ClearBufferMessage, sent[0])
	assert.Equal(t, InitialSyncMessage, sent[1])
	assert.Equal(t, HeartbeatMessage, sent[2])

	require.Eventually(t, func() bool {
		st, synced := h.session.LastStatus()
		return synced && st != nil && st.BufferSize == 25
	}, waitFor, time.Millisecond)

	reports := h.events.ofType(EventStatusReceived)
	require.NotEmpty(t, reports)
	assert.True(t, reports[0].Report, "первый статус сообщается")
	assert.Equal(t, StateIdle, h.session.State())
	assert.Empty(t, h.sender.Packets(), "без плейлиста кадры не отправляются")
}

func TestSession_PacketSequence(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	unit := NewToneUnit("tone-1", audio(3*rtp.PayloadSize+10, 0x11))
	require.NoError(t, h.session.AssignPlaylist(unit))
	assert.Equal(t, StateStreaming, h.session.State())

	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventUnitFinished)) == 1
	}, waitFor, time.Millisecond)

	packets := h.sender.Packets()
	require.Len(t, packets, 4)

	for i, p := range packets {
		assert.Equal(t, uint16(i), p.SequenceNumber, "кадр %d", i)
		assert.Equal(t, uint32(i*rtp.PayloadSize), p.Timestamp, "кадр %d", i)
		assert.Equal(t, rtp.TransmitterMask(0x05), p.Transmitters)
		assert.Equal(t, packets[0].SSRC, p.SSRC)
		if i > 0 {
			assert.Equal(t, packets[i-1].CurrentPayload, p.PreviousPayload, "предыдущая нагрузка кадра %d", i)
		}
	}
	assert.Equal(t, rtp.SilencePayload(), packets[0].PreviousPayload)

	last := packets[3].CurrentPayload
	assert.Equal(t, audio(10, 0x11), last[:10])
	assert.Equal(t, audio(rtp.PayloadSize-10, rtp.SilenceByte), last[10:], "хвост дополняется тишиной")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.sender.Packets(), 4, "после плейлиста кадры не отправляются")

	finished := h.events.ofType(EventUnitFinished)
	assert.Equal(t, "tone-1", finished[0].UnitID)
	assert.False(t, finished[0].Interrupted)

	entries := h.recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "tone-1", entries[0].UnitID)
	assert.Equal(t, "test", entries[0].Group)
	assert.Equal(t, string(UnitTone), entries[0].Kind)
}

func TestSession_SequenceContinuesAcrossUnits(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(
		NewToneUnit("a", audio(2*rtp.PayloadSize, 1)),
		NewToneUnit("b", audio(2*rtp.PayloadSize, 2)),
	))

	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventUnitFinished)) == 2
	}, waitFor, time.Millisecond)

	packets := h.sender.Packets()
	require.Len(t, packets, 4)
	for i, p := range packets {
		assert.Equal(t, uint16(i), p.SequenceNumber)
	}
	assert.Equal(t, byte(2), packets[2].CurrentPayload[0])
	assert.Equal(t, byte(1), packets[2].PreviousPayload[0])
}

func TestSession_LostAndRegainedSync(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", audio(1<<20, 0x22))))

	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 5
	}, waitFor, time.Millisecond)

	stop()
	require.Eventually(t, func() bool {
		return h.session.State() == StateDegraded
	}, waitFor, time.Millisecond)
	require.Len(t, h.events.ofType(EventLostSync), 1)

	time.Sleep(5 * time.Millisecond)
	sentWhileDegraded := len(h.sender.Packets())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sentWhileDegraded, len(h.sender.Packets()), "без синхронизации передача стоит")
	assert.Contains(t, h.control.Sent()[2:], InitialSyncMessage, "синхронизация запрашивается повторно")

	stop = h.control.feed(25)
	defer stop()
	require.Eventually(t, func() bool {
		return h.session.State() == StateStreaming
	}, waitFor, time.Millisecond)

	regained := h.events.ofType(EventRegainedSync)
	require.Len(t, regained, 1)
	assert.GreaterOrEqual(t, regained[0].Downtime, testConfig().SyncTimeout)

	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > sentWhileDegraded
	}, waitFor, time.Millisecond)
}

func TestSession_RestartAfterLongDowntime(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)

	require.NoError(t, h.session.Start(context.Background()))

	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = byte(i / rtp.PayloadSize)
	}
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", data)))

	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 3
	}, waitFor, time.Millisecond)

	stop()
	require.Eventually(t, func() bool {
		return h.session.State() == StateDegraded
	}, waitFor, time.Millisecond)
	time.Sleep(testConfig().RestartThreshold)
	before := len(h.sender.Packets())

	stop = h.control.feed(25)
	defer stop()
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > before
	}, waitFor, time.Millisecond)

	regained := h.events.ofType(EventRegainedSync)
	require.Len(t, regained, 1)
	assert.True(t, regained[0].Restart)

	resumed := h.sender.Packets()[before]
	assert.Equal(t, byte(0), resumed.CurrentPayload[0], "блок начат заново")
	assert.Equal(t, uint16(before), resumed.SequenceNumber, "нумерация не сбрасывается")
}

func TestSession_PauseResume(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", audio(1<<20, 0x33))))
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 2
	}, waitFor, time.Millisecond)

	require.NoError(t, h.session.Pause())
	assert.Equal(t, StatePaused, h.session.State())
	time.Sleep(5 * time.Millisecond)
	paused := len(h.sender.Packets())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, paused, len(h.sender.Packets()))

	require.NoError(t, h.session.Resume())
	assert.Equal(t, StateStreaming, h.session.State())
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > paused
	}, waitFor, time.Millisecond)
}

func TestSession_Interrupt(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("main", audio(10*rtp.PayloadSize, 0x44))))
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) >= 2
	}, waitFor, time.Millisecond)

	require.NoError(t, h.session.Interrupt(NewToneUnit("alert", audio(2*rtp.PayloadSize, 0x55))))

	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventUnitFinished)) == 3
	}, waitFor, time.Millisecond)

	finished := h.events.ofType(EventUnitFinished)
	assert.Equal(t, "main", finished[0].UnitID)
	assert.True(t, finished[0].Interrupted)
	assert.Equal(t, "alert", finished[1].UnitID)
	assert.False(t, finished[1].Interrupted)
	assert.Equal(t, "main", finished[2].UnitID)
	assert.False(t, finished[2].Interrupted)

	started := h.events.ofType(EventUnitStarted)
	require.Len(t, started, 3)
	assert.Equal(t, []string{"main", "alert", "main"}, []string{started[0].UnitID, started[1].UnitID, started[2].UnitID})

	packets := h.sender.Packets()
	for i, p := range packets {
		assert.Equal(t, uint16(i), p.SequenceNumber)
	}
	tail := packets[len(packets)-10:]
	for _, p := range tail {
		assert.Equal(t, byte(0x44), p.CurrentPayload[0], "прерванный блок воспроизводится заново целиком")
	}
}

func TestSession_LiveUnitSendsSilenceOnUnderrun(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	live := NewLiveUnit("live")
	require.NoError(t, h.session.Interrupt(live))

	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) >= 3
	}, waitFor, time.Millisecond)
	assert.Equal(t, rtp.SilencePayload(), h.sender.Packets()[0].CurrentPayload)

	_, err := live.Write(audio(rtp.PayloadSize, 0x66))
	require.NoError(t, err)
	require.NoError(t, live.Close())

	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventUnitFinished)) == 1
	}, waitFor, time.Millisecond)

	var found bool
	for _, p := range h.sender.Packets() {
		if bytes.Equal(p.CurrentPayload, audio(rtp.PayloadSize, 0x66)) {
			found = true
		}
	}
	assert.True(t, found, "живое аудио отправлено")
}

func TestSession_ChangeTransmitters(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	assert.ErrorIs(t, h.session.ChangeTransmitters(0), ErrInvalidConfig)

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", audio(1<<20, 0x77))))
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 0
	}, waitFor, time.Millisecond)

	require.NoError(t, h.session.ChangeTransmitters(0x08))
	assert.Equal(t, rtp.TransmitterMask(0x08), h.session.Transmitters())

	changedAt := len(h.sender.Packets())
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > changedAt+1
	}, waitFor, time.Millisecond)

	last := h.sender.Packets()[changedAt+1]
	assert.Equal(t, rtp.TransmitterMask(0x08), last.Transmitters)
}

func TestSession_SendFailureKeepsSequence(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", audio(1<<20, 0x12))))
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 1
	}, waitFor, time.Millisecond)

	h.sender.SetFail(true)
	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventSendFailed)) >= 3
	}, waitFor, time.Millisecond)
	h.sender.SetFail(false)

	failed := h.events.ofType(EventSendFailed)
	assert.ErrorIs(t, failed[0].Err, ErrSendFailed)

	before := h.sender.Packets()
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > len(before)
	}, waitFor, time.Millisecond)

	after := h.sender.Packets()[len(before)]
	gap := int(after.SequenceNumber) - int(before[len(before)-1].SequenceNumber)
	assert.Greater(t, gap, 1, "номера потерянных кадров пропускаются")
	assert.Equal(t, StateStreaming, h.session.State(), "ошибки отправки не останавливают сессию")
}

func TestSession_GracefulShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(
		NewToneUnit("first", audio(20*rtp.PayloadSize, 1)),
		NewToneUnit("second", audio(20*rtp.PayloadSize, 2)),
	))
	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventUnitStarted)) == 1
	}, waitFor, time.Millisecond)

	require.NoError(t, h.session.Shutdown(false))
	assert.Equal(t, StateShuttingDown, h.session.State())

	select {
	case <-h.session.Done():
	case <-time.After(waitFor):
		t.Fatal("сессия не завершилась")
	}
	assert.Equal(t, StateTerminated, h.session.State())

	packets := h.sender.Packets()
	assert.Len(t, packets, 20, "текущий блок доигран")
	for _, p := range packets {
		assert.Equal(t, byte(1), p.CurrentPayload[0], "второй блок не начат")
	}

	finished := h.events.ofType(EventUnitFinished)
	require.Len(t, finished, 1)
	assert.False(t, finished[0].Interrupted)

	assert.ErrorIs(t, h.session.AssignPlaylist(NewToneUnit("late", audio(1, 1))), ErrShutdown)
	assert.NoError(t, h.session.Shutdown(true), "повторная остановка допустима")
}

func TestSession_ImmediateShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	stop := h.control.feed(25)
	defer stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.AssignPlaylist(NewToneUnit("long", audio(1<<20, 0x21))))
	require.Eventually(t, func() bool {
		return len(h.sender.Packets()) > 2
	}, waitFor, time.Millisecond)

	require.NoError(t, h.session.Shutdown(true))
	h.session.Wait()
	assert.Equal(t, StateTerminated, h.session.State())

	count := len(h.sender.Packets())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, count, len(h.sender.Packets()))

	for _, p := range h.sender.Packets() {
		data, err := p.Encode()
		require.NoError(t, err)
		assert.Len(t, data, rtp.PacketSize, "кадры отправляются целиком")
	}

	entries := h.recorder.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Interrupted)
}

func TestSession_ParentContextCancel(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.session.Start(ctx))
	cancel()

	select {
	case <-h.session.Done():
	case <-time.After(waitFor):
		t.Fatal("сессия не завершилась после отмены контекста")
	}
	assert.Equal(t, StateTerminated, h.session.State())
}

func TestSession_ShutdownBeforeStart(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.session.Shutdown(false))
	assert.Equal(t, StateTerminated, h.session.State())
	h.session.Wait()

	assert.Error(t, h.session.Start(context.Background()))
}

func TestSession_InvalidTransitions(t *testing.T) {
	h := newHarness(t, testConfig())

	assert.ErrorIs(t, h.session.Pause(), ErrInvalidState)
	assert.ErrorIs(t, h.session.Resume(), ErrInvalidState)
	assert.ErrorIs(t, h.session.AssignPlaylist(), ErrInvalidConfig)
	assert.ErrorIs(t, h.session.Interrupt(nil), ErrInvalidConfig)
}

func TestSession_MalformedStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.session.Start(context.Background()))

	h.control.statuses <- "0garbage"
	h.control.statuses <- RejectMessage

	require.Eventually(t, func() bool {
		return len(h.events.ofType(EventMalformedStatus)) == 1
	}, waitFor, time.Millisecond)

	ev := h.events.ofType(EventMalformedStatus)[0]
	raw, ok := RawStatus(ev.Err)
	assert.True(t, ok)
	assert.Equal(t, "0garbage", raw)
}

func TestSession_PacingFollowsBuffer(t *testing.T) {
	c := testConfig()
	c.CycleTime = 40 * time.Millisecond
	h := newHarness(t, c)

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, c.InitialCycleTime, h.session.cycleTime())

	h.control.statuses <- FormatDacStatus(&DacStatus{BufferSize: 25})
	require.Eventually(t, func() bool {
		return h.session.cycleTime() == c.CycleTime
	}, waitFor, time.Millisecond)

	h.control.statuses <- FormatDacStatus(&DacStatus{BufferSize: 0})
	require.Eventually(t, func() bool {
		return h.session.cycleTime() == 100*time.Millisecond/30
	}, waitFor, time.Millisecond)
}
