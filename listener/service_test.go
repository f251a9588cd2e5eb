package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/movo/lib/config"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/store/memory"
)

func newService(t *testing.T, m *memory.Memory) *Service {
	t.Helper()

	dec, err := event.NewDecoder(nil, event.DefaultDecimals)
	require.NoError(t, err)

	conf := config.ServiceConfig{Workers: 1, Bc: config.BcDefault}
	conf.Bc.Contract = contract
	conf.Bc.PollInterval = 1

	s, err := NewService(conf, m, &fakeChain{head: 50}, dec, nil)
	require.NoError(t, err)

	return s
}

func TestServiceListeners(t *testing.T) {
	s := newService(t, memory.New())

	assert.Equal(t, []string{RECEIVER, SENDER}, s.Names())

	l, ok := s.Listener(SENDER)
	require.True(t, ok)
	assert.Equal(t, SENDER, l.Name())

	_, ok = s.Listener("payer")
	assert.False(t, ok)
}

func TestServiceListenStop(t *testing.T) {
	m := memory.New()
	s := newService(t, m)

	done := s.Listen(context.Background())

	// both listeners start at the head and save their cursor
	require.Eventually(t, func() bool {
		cs, err := m.ListCursors(context.Background())
		return err == nil && len(cs) == 2
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()

	select {
	case msg := <-done:
		assert.Equal(t, "Done!", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	c, err := m.LoadCursor(context.Background(), RECEIVER)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), c.Block)
}

func TestServiceReplayUnknownListener(t *testing.T) {
	s := newService(t, memory.New())

	_, err := s.Replay(context.Background(), store.IntakeEvent{Key: "0xaa:0", Listener: "payer"})
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = s.Replay(context.Background(), store.IntakeEvent{Key: "0xaa:0", Listener: RECEIVER})
	assert.ErrorIs(t, err, ErrEventNotFound)
}
