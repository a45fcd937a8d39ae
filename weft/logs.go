package weft

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hpcloud/tail"
	"weft.sh/weft/core/weft/models"
)

// Logs streams a job's log file over a websocket, following it while
// the job is still producing output. Each message is one log line in
// the job logger's wire format.
func (s *Weft) Logs(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Logs")

	jid := models.JobId{
		Run:  models.RunId(chi.URLParam(r, "run")),
		Name: chi.URLParam(r, "job"),
	}
	if jid.Run == "" || jid.Name == "" {
		http.Error(w, "missing run or job", http.StatusBadRequest)
		return
	}

	path := models.LogFilePath(s.cfg.Runs.LogDir, jid)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "no logs for job", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		l.Error("failed to tail log file", "path", path, "err", err)
		return
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	l.Info("streaming logs", "job", jid)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				l.Error("tail error", "err", line.Err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
				return
			}
		}
	}
}
