package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"clipgen/internal/domain"
)

const eventsWriteWait = 5 * time.Second

func (a *App) upgrader() websocket.Upgrader {
	u := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(a.origins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range a.origins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			if parsed, err := url.Parse(origin); err == nil {
				return strings.EqualFold(parsed.Host, r.Host)
			}
			return false
		}
	}
	return u
}

// JobEvents streams status changes of one job over a websocket until the job
// reaches a terminal state or disappears.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.jobs.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		a.logger.Debug().Err(err).Str("job_id", id).Msg("http: websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(a.events)
	defer ticker.Stop()
	last := jobStatusResponse{}
	for {
		cur := statusOf(job)
		if cur != last {
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			last = cur
		}
		if job.Status.Terminal() {
			closeEvents(conn, websocket.CloseNormalClosure, string(job.Status))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}

		job, err = a.jobs.Status(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			closeEvents(conn, websocket.CloseNormalClosure, "gone")
			return
		}
		if err != nil {
			a.logger.Warn().Err(err).Str("job_id", id).Msg("http: job events lookup failed")
			closeEvents(conn, websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
}

func closeEvents(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventsWriteWait))
}
