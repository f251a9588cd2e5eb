// Package api serves the operations REST API of the listener service: listener cursors, the intake log, event
// replays and the reconciled histories.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/store"
)

const timeout = 15

// Replayer handles an intake event again.
type Replayer interface {
	Replay(ctx context.Context, e store.IntakeEvent) (string, error)
}

// API serves the ops endpoints over a store and a Replayer.
type API struct {
	db   store.DB
	rp   Replayer
	mu   sync.Mutex
	s    *http.Server
	sc   chan struct{}
	once sync.Once
}

// New returns an API over db. Replays are not available when rp is nil.
func New(db store.DB, rp Replayer) *API {
	return &API{db: db, rp: rp, sc: make(chan struct{})}
}

// Router returns the API routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/listeners", a.listenersHandler).Methods(http.MethodGet)            // listener cursors
	r.HandleFunc("/events", a.eventsHandler).Methods(http.MethodGet)                  // intake log
	r.HandleFunc("/events/{key}/replay", a.replayHandler).Methods(http.MethodPost)    // handle an event again
	r.HandleFunc("/history/tx/{txId}", a.txHistoryHandler).Methods(http.MethodGet)    // payroll history
	r.HandleFunc("/history/withdraw/{id}", a.withdrawHandler).Methods(http.MethodGet) // withdraw history
	r.Use(logRequests)

	return r
}

// Init starts the http server on endpoint:port and blocks until Shutdown is called.
func (a *API) Init(endpoint, port string) string {
	errc := make(chan error, 1)
	s := &http.Server{
		Handler:      a.Router(),
		Addr:         endpoint + ":" + port,
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	a.mu.Lock()
	select {
	case <-a.sc:
		a.mu.Unlock()

		return "http server not started"
	default:
		a.s = s
	}
	a.mu.Unlock()

	go func() {
		errc <- s.ListenAndServe()
	}()

	zap.L().Info("Listening to API http requests", zap.String("endpoint", endpoint), zap.String("port", port))

	// wait for server to be shutdown
	<-a.sc

	return fmt.Sprintf("shutdown http server:%v", <-errc)
}

// Shutdown stops the http server and makes Init return.
func (a *API) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	s := a.s
	a.once.Do(func() { close(a.sc) })
	a.mu.Unlock()

	if s == nil {
		return nil
	}

	return s.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		next.ServeHTTP(rw, r)
		zap.L().Debug("httpreq", zap.String("from", r.RemoteAddr), zap.String("method", r.Method),
			zap.String("uri", r.RequestURI), zap.Duration("took", time.Since(t0)))
	})
}
