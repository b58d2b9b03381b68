package api

import (
	"net/http"

	"github.com/dialhub/dialhub/internal/telephony"
)

// healthResponse reports subsystem liveness for load balancers and
// monitoring. Status mirrors the control-plane connection state.
type healthResponse struct {
	Status      string          `json:"status"`
	Message     string          `json:"message,omitempty"`
	ActiveCalls activeCallsJSON `json:"activeCalls"`
}

type activeCallsJSON struct {
	AICalls     []string `json:"aiCalls"`
	ManualCalls []string `json:"manualCalls"`
	Total       int      `json:"total"`
}

// handleHealth reports overall health: connected means healthy,
// disconnected means the connection is mid-reconnect, error means the
// retry budget is exhausted and the service needs a restart.
// Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: string(telephony.StatusConnected),
		ActiveCalls: activeCallsJSON{
			AICalls:     []string{},
			ManualCalls: []string{},
		},
	}
	httpStatus := http.StatusOK

	if s.conn != nil {
		status, lastErr := s.conn.Status()
		resp.Status = string(status)
		switch status {
		case telephony.StatusDisconnected:
			resp.Message = lastErr
		case telephony.StatusError:
			resp.Message = lastErr
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if s.ai != nil {
		resp.ActiveCalls.AICalls = s.ai.ActiveCallIDs()
	}
	if s.manual != nil {
		resp.ActiveCalls.ManualCalls = s.manual.ActiveCallIDs()
	}
	resp.ActiveCalls.Total = len(resp.ActiveCalls.AICalls) + len(resp.ActiveCalls.ManualCalls)

	writeJSON(w, httpStatus, resp)
}
