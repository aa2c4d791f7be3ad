// Package wsbridge fans a watch.Subscription out over a websocket
// connection, one JSON message per event. It is the module's concrete
// instance of the "worker-port RPC" transport the spec lists as an
// external collaborator: the teacher depends on gorilla/websocket for
// its own worker bridge (deleted along with the rest of the wanix-OS
// process layer), and this package keeps that dependency wired to a
// narrow, in-scope job instead of dropping it.
package wsbridge

import (
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"corefs.dev/corefs/vfs/watch"
)

type message struct {
	EventType string `json:"eventType"`
	Filename  string `json:"filename"`
}

// Serve forwards every event from sub to conn until sub is closed or a
// write to conn fails, then closes sub. Intended to run in its own
// goroutine per connected subscriber.
func Serve(conn *websocket.Conn, sub *watch.Subscription, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	defer sub.Close()
	for {
		ev, ok := sub.Next()
		if !ok {
			return
		}
		b, err := json.Marshal(message{EventType: ev.Kind, Filename: ev.Path})
		if err != nil {
			log.Warn("wsbridge: marshal event", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug("wsbridge: write failed, closing subscription", "err", err)
			return
		}
	}
}
