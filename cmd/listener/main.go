// package main: movo chain listener service
//
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tarancss/movo/api"
	"github.com/tarancss/movo/lib/block"
	"github.com/tarancss/movo/lib/config"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/logging"
	"github.com/tarancss/movo/lib/msg"
	"github.com/tarancss/movo/lib/msg/amqp"
	"github.com/tarancss/movo/lib/store/db"
	"github.com/tarancss/movo/listener"
	"github.com/tarancss/movo/reconcile"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to expose Prometheus metrics at http://localhost:9100/metrics")
	heal := flag.Bool("heal", false, "flag to re-apply missing balance credits from the payroll history before listening")
	flag.Parse()

	//extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		log.Fatal(err)
	}

	_, cleanup, err := logging.Init(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err = conf.Validate(); err != nil {
		zap.L().Fatal("Invalid configuration", zap.Error(err))
	}

	zap.L().Info("Configuration", zap.String("db", conf.DBType), zap.String("dbname", conf.DBName),
		zap.String("mb", conf.MbType), zap.String("chain", conf.Bc.Name), zap.String("contract", conf.Bc.Contract),
		zap.Int("workers", conf.Workers))

	// connect to database
	dbConn, err := db.New(conf)
	if err != nil {
		zap.L().Fatal("Cannot connect to database", zap.Error(err))
	}

	defer func() {
		if err := db.Close(conf.DBType, dbConn); err != nil {
			zap.L().Error("Closing database", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// connect to the blockchain
	chain, err := block.Init(ctx, conf.Bc)
	if err != nil {
		zap.L().Fatal("Cannot connect to blockchain", zap.Error(err))
	}
	defer chain.Close()

	zap.L().Info("Blockchain client loaded", zap.String("chain", chain.Name()))

	dec, err := event.NewDecoderFromFile(conf.Bc.ABI, conf.Bc.Decimals)
	if err != nil {
		zap.L().Fatal("Cannot load contract ABI", zap.Error(err))
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			zap.L().Info("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			zap.L().Error("Metrics API", zap.Error(http.ListenAndServe(":9100", h))) //nolint:gosec // internal
		}()
	}

	// load message broker
	var mb msg.MsgBroker = msg.Nop{}

	switch conf.MbType {
	case msg.AMQP:
		var r *amqp.Amqp
		if r, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if r, err = amqp.New(conf.MbConn); err != nil {
				zap.L().Fatal("Cannot connect to message broker", zap.Error(err))
			}
		}

		if err = r.Setup(); err != nil {
			zap.L().Fatal("Cannot set up message broker", zap.Error(err))
		}

		defer func() {
			zap.L().Info("Closing message broker", zap.Error(r.Close()))
		}()

		mb = r
	case msg.NONE:
		zap.L().Info("No message broker, notifications disabled")
	default:
		zap.L().Warn("Unknown message broker type, notifications disabled", zap.String("mbtype", conf.MbType))
	}

	if *heal {
		rep, err := reconcile.NewHealer(dbConn).Heal(ctx)
		if err != nil {
			zap.L().Fatal("Cannot heal balances", zap.Error(err))
		}

		zap.L().Info("Balances healed", zap.Int("histories", rep.Histories), zap.Int("applied", rep.Applied),
			zap.Int("missing", rep.Missing), zap.Int("failed", rep.Failed))
	}

	// create listener service
	s, err := listener.NewService(conf, dbConn, chain, dec, mb)
	if err != nil {
		zap.L().Fatal("Cannot create listeners", zap.Error(err))
	}

	// ops API
	a := api.New(dbConn, s)
	if conf.Port != "" {
		go func() {
			zap.L().Info("API", zap.String("status", a.Init(conf.RestfulEndpoint, conf.Port)))
		}()
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		zap.L().Info("Program killed !")
		// stop listeners, pending events are resumed on next start
		s.Stop()

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()

		_ = a.Shutdown(sctx)
	}()

	// launch listeners and wait for them to return
	zap.L().Info("Listen", zap.String("status", <-s.Listen(ctx)))
}
