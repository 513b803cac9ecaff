package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mvsynth/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressSocketHandler streams a run's progress events over WebSocket. The
// first message is the run's current state; the stream closes after a
// terminal status.
func (s *Server) ProgressSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 先订阅再读快照，避免丢失中间事件
	sub, err := s.Bus.Subscribe(ctx, id)
	if err != nil {
		s.log.Error("订阅进度失败", zap.String("run", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	run := s.loadRun(w, r)
	if run == nil {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := model.ProgressEvent{
		RunID:   run.ID,
		Stage:   run.Stage,
		Percent: run.Progress,
		Message: run.Error,
		Status:  run.Status,
		Time:    run.UpdatedAt,
	}
	if !s.writeEvent(conn, snapshot) || run.Status.Terminal() {
		closeSocket(conn)
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if !s.writeEvent(conn, ev) {
				return
			}
			if ev.Status.Terminal() {
				closeSocket(conn)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev model.ProgressEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.log.Debug("websocket write", zap.String("run", ev.RunID), zap.Error(err))
		return false
	}
	return true
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
