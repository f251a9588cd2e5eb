// package main: replays intake events and heals balances without following the chain
//
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/block"
	"github.com/tarancss/movo/lib/config"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/logging"
	"github.com/tarancss/movo/lib/msg"
	"github.com/tarancss/movo/lib/msg/amqp"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/store/db"
	"github.com/tarancss/movo/listener"
	"github.com/tarancss/movo/reconcile"
)

func main() {
	confPath := flag.String("c", "", "flag to get configuration from json file")
	key := flag.String("key", "", "intake event key (txHash:logIndex) to replay")
	status := flag.String("status", "", "replay every event in this status (ie. failed) when no key is given")
	heal := flag.Bool("heal", false, "flag to re-apply missing balance credits from the payroll history")
	flag.Parse()

	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		log.Fatal(err)
	}

	_, cleanup, err := logging.Init(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err = run(conf, *key, *status, *heal); err != nil {
		zap.L().Error("Replay failed", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}

var (
	errNothing = errors.New("nothing to do: use -key, -status or -heal")
	errStatus  = errors.New("cannot replay events in status")
)

func run(conf config.ServiceConfig, key, status string, heal bool) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	switch status {
	case "", store.StatusPending, store.StatusFailed, store.StatusDropped:
	default:
		return fmt.Errorf("%w: %q", errStatus, status)
	}

	if key == "" && status == "" && !heal {
		return errNothing
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.New(conf)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close(conf.DBType, dbConn) }()

	if heal {
		rep, err := reconcile.NewHealer(dbConn).Heal(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("Balances healed", zap.Int("histories", rep.Histories), zap.Int("applied", rep.Applied),
			zap.Int("alreadyApplied", rep.AlreadyApplied), zap.Int("missing", rep.Missing),
			zap.Int("failed", rep.Failed))

		if key == "" && status == "" {
			return nil
		}
	}

	chain, err := block.Init(ctx, conf.Bc)
	if err != nil {
		return err
	}
	defer chain.Close()

	dec, err := event.NewDecoderFromFile(conf.Bc.ABI, conf.Bc.Decimals)
	if err != nil {
		return err
	}

	var mb msg.MsgBroker = msg.Nop{}

	if conf.MbType == msg.AMQP {
		r, err := amqp.New(conf.MbConn)
		if err != nil {
			return err
		}
		defer r.Close()

		if err = r.Setup(); err != nil {
			return err
		}

		mb = r
	}

	s, err := listener.NewService(conf, dbConn, chain, dec, mb)
	if err != nil {
		return err
	}

	if key != "" {
		e, err := dbConn.GetEvent(ctx, key)
		if err != nil {
			return err
		}

		st, err := s.Replay(ctx, e)
		zap.L().Info("Event replayed", zap.String("key", key), zap.String("status", st), zap.Error(err))

		return err
	}

	var failed error

	for _, name := range s.Names() {
		l, _ := s.Listener(name)

		done, err := l.ReplayAll(ctx, status)
		zap.L().Info("Events replayed", zap.String("listener", name), zap.String("status", status),
			zap.Int("done", done), zap.Error(err))

		failed = errors.Join(failed, err)
	}

	return failed
}
