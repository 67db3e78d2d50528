package server

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/metrics"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
)

// registerStream serves committed events of one app over a websocket. With
// ?after=<event id> the stored backlog past that id is replayed first. A
// client too slow to keep up is closed with code 1013 and told where to
// resume.
func registerStream(r chi.Router, basePath string, e *engine.Engine, m *metrics.Metrics, log logrus.FieldLogger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
	}
	r.Get(path.Join(basePath, "apps/{app_id}/events/stream"), func(w http.ResponseWriter, req *http.Request) {
		appID, err := strconv.ParseUint(chi.URLParam(req, "app_id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid app id", nil))
			return
		}
		var after int64
		replay := req.URL.Query().Has("after")
		if replay {
			after, err = strconv.ParseInt(req.URL.Query().Get("after"), 10, 64)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid after cursor", nil))
				return
			}
		}
		if _, err := e.App(req.Context(), appID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if e.Hub == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "unavailable", "event streaming disabled", nil))
			return
		}

		// Subscribe before reading the backlog so nothing committed in
		// between is missed; duplicates are skipped by id below.
		sub := e.Hub.Subscribe(appID)
		defer sub.Close()

		var backlog []domain.Event
		if replay {
			backlog, err = e.Events(req.Context(), domain.EventQuery{AppID: appID, AfterID: after})
			if err != nil {
				respondStatusError(w, handleError(err))
				return
			}
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		m.StreamOpened()
		defer m.StreamClosed()
		streamLog := log.WithField("app_id", appID)
		streamLog.Debug("event stream opened")

		last := after
		for _, evt := range backlog {
			if err := writeEvent(conn, evt); err != nil {
				return
			}
			last = evt.ID
		}

		// Reader goroutine only detects the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				streamLog.Debug("event stream closed by peer")
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			case evt, ok := <-sub.C:
				if !ok {
					if sub.Dropped() > 0 {
						streamLog.WithField("after", last).Warn("event stream lagging, closing")
						closeLagging(conn, last)
					}
					return
				}
				if evt.ID <= last {
					continue
				}
				if err := writeEvent(conn, evt); err != nil {
					streamLog.WithError(err).Debug("event stream write failed")
					return
				}
				last = evt.ID
			}
		}
	})
}

// closeLagging ends a stream whose subscriber fell behind. The reason names
// the cursor to resume from; the backlog replay fills the gap.
func closeLagging(conn *websocket.Conn, last int64) {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging; resume with after="+strconv.FormatInt(last, 10))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

func writeEvent(conn *websocket.Conn, evt domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(evt)
}
