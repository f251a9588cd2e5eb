package listener

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/block"
	"github.com/tarancss/movo/lib/config"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/msg"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/reconcile"
)

// Service runs the sender and receiver listeners of one contract.
type Service struct {
	id     string
	ls     map[string]*Listener
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewService builds the sender listener (EscrowCreated, PayrollApproved) and the receiver listener
// (WithdrawApproved) for the configured contract.
func NewService(conf config.ServiceConfig, db store.DB, chain block.Chain, dec Decoder, mb msg.MsgBroker) (*Service, error) {
	if mb == nil {
		mb = msg.Nop{}
	}

	base := Config{
		Contract:     conf.Bc.Contract,
		Workers:      conf.Workers,
		Chunk:        conf.Bc.Chunk,
		PollInterval: conf.Bc.PollDuration(),
		StartBlock:   conf.Bc.StartBlock,
		MaxBlocks:    chain.MaxBlocks(),
		Timeout:      conf.Bc.ReadTimeout(),
	}

	sender, receiver := base, base
	sender.Name, sender.Events = SENDER, []string{event.EscrowCreated, event.PayrollApproved}
	receiver.Name, receiver.Events = RECEIVER, []string{event.WithdrawApproved}

	s := &Service{id: uuid.NewString(), ls: make(map[string]*Listener)}

	for _, c := range []struct {
		cfg Config
		h   reconcile.Handler
	}{
		{sender, reconcile.NewSender(db, chain, mb, base.Timeout)},
		{receiver, reconcile.NewReceiver(db, mb)},
	} {
		l, err := New(c.cfg, chain, db, dec, c.h)
		if err != nil {
			return nil, err
		}

		s.ls[c.cfg.Name] = l
	}

	return s, nil
}

// Listen starts a go routine for each listener. The returned channel receives a message once all of them have
// returned, after Stop or when ctx is done.
func (s *Service) Listen(ctx context.Context) chan string {
	ret := make(chan string, 1)
	// channel to wait for listeners
	w := make(chan string, len(s.ls))

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for name, l := range s.ls {
		zap.L().Info("Starting listener", zap.String("listener", name), zap.String("instance", s.id))

		go func(name string, l *Listener) {
			err := l.Run(ctx)
			w <- fmt.Sprintf("[%s] Done! err:%v", name, err)
		}(name, l)
	}
	// routine to wait for all listeners to complete
	go func() {
		defer cancel()

		for i := 1; i < len(s.ls)+1; i++ {
			zap.L().Info("Listener returned", zap.Int("n", i), zap.Int("of", len(s.ls)), zap.String("status", <-w))
		}
		ret <- "Done!"
	}()

	return ret
}

// Stop makes all listeners return.
func (s *Service) Stop() {
	for _, l := range s.ls {
		l.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// Listener returns the named listener.
func (s *Service) Listener(name string) (*Listener, bool) {
	l, ok := s.ls[name]

	return l, ok
}

// Names returns the listener names in order.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.ls))
	for n := range s.ls {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Replay handles the intake event again with the listener that received it.
func (s *Service) Replay(ctx context.Context, e store.IntakeEvent) (string, error) {
	l, ok := s.ls[e.Listener]
	if !ok {
		return "", fmt.Errorf("%w: no listener %q for %s", ErrEventNotFound, e.Listener, e.Key)
	}

	return l.Replay(ctx, e.Key)
}
