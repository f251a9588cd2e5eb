package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/listener"
)

const maxEvents = 500

// Errors returned to client requests.
var (
	ErrBadStatus = errors.New("invalid status - use pending, done, dropped or failed")
	ErrBadLimit  = errors.New("invalid limit")
	ErrNoReplay  = errors.New("replays not available")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  interface{} `json:"body,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ReplayResult is the body replied to a replay request.
type ReplayResult struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	var res Response

	status := http.StatusOK

	if err != nil {
		res.Error = err.Error()
		status = statusOf(err)

		zap.L().Info("httpreq failed", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI),
			zap.Int("status", status), zap.Error(err))
	} else {
		res.Body = body
	}

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, listener.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadStatus), errors.Is(err, ErrBadLimit):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoReplay):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// homeHandler just replies a welcome message to the client.
func (a *API) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, "Hello, this is the movo chain listener!", nil)
}

func (a *API) healthHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, "ok", nil)
}

// listenersHandler replies the stored cursor of every listener.
func (a *API) listenersHandler(rw http.ResponseWriter, r *http.Request) {
	cs, err := a.db.ListCursors(r.Context())
	reply(rw, r, cs, err)
}

// eventsHandler replies the intake events filtered by the status, listener and limit queries.
func (a *API) eventsHandler(rw http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		reply(rw, r, nil, err)

		return
	}

	es, err := a.db.ListEvents(r.Context(), f)
	reply(rw, r, es, err)
}

func eventFilter(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	f := store.EventFilter{Listener: q.Get("listener"), Status: q.Get("status"), Limit: maxEvents}

	switch f.Status {
	case "", store.StatusPending, store.StatusDone, store.StatusDropped, store.StatusFailed:
	default:
		return f, fmt.Errorf("%w: %q", ErrBadStatus, f.Status)
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return f, fmt.Errorf("%w: %q", ErrBadLimit, s)
		}

		if n < maxEvents {
			f.Limit = n
		}
	}

	return f, nil
}

// replayHandler handles an intake event again and replies its resulting status. A failing handler is not an
// error of the request: the result carries the handler error.
func (a *API) replayHandler(rw http.ResponseWriter, r *http.Request) {
	if a.rp == nil {
		reply(rw, r, nil, ErrNoReplay)

		return
	}

	key := mux.Vars(r)["key"]

	e, err := a.db.GetEvent(r.Context(), key)
	if err != nil {
		reply(rw, r, nil, fmt.Errorf("event %s: %w", key, err))

		return
	}

	status, err := a.rp.Replay(r.Context(), e)
	if status == "" {
		reply(rw, r, nil, err)

		return
	}

	res := ReplayResult{Key: key, Status: status}
	if err != nil {
		res.Error = err.Error()
	}

	reply(rw, r, res, nil)
}

func (a *API) txHistoryHandler(rw http.ResponseWriter, r *http.Request) {
	h, err := a.db.GetTransactionHistory(r.Context(), mux.Vars(r)["txId"])
	reply(rw, r, h, err)
}

func (a *API) withdrawHandler(rw http.ResponseWriter, r *http.Request) {
	h, err := a.db.GetWithdrawHistory(r.Context(), mux.Vars(r)["id"])
	reply(rw, r, h, err)
}
