package api

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const statsPushInterval = 2 * time.Second

// statsFrame is one push on the stats socket.
type statsFrame struct {
	Timestamp int64  `json:"timestamp"`
	Engine    any    `json:"engine"`
	Health    any    `json:"health"`
	Sessions  any    `json:"sessions"`
	Savings   string `json:"savings"`
}

// handleStatsWS upgrades to a WebSocket and pushes engine stats on an
// interval until the client disconnects. Auth rides a ?token= query param
// because browsers cannot set headers on WebSocket upgrades.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret == nil {
		writeError(w, http.StatusForbidden, "admin API disabled: no JWT secret configured")
		return
	}
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := ValidateToken(tokenStr, s.jwtSecret); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboards connect from arbitrary origins
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	s.logger.Debug("stats ws connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	for {
		frame := statsFrame{
			Timestamp: time.Now().Unix(),
			Engine:    s.engine.Stats(),
			Health:    s.engine.Health().Stats(),
			Sessions:  s.engine.Sessions().Stats(),
			Savings:   s.engine.SavingsReport(),
		}
		if err := wsjson.Write(r.Context(), conn, frame); err != nil {
			s.logger.Debug("stats ws ended", "error", err)
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}
