package api

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
)

// staleAfter is how old the newest message may be, in seconds, before the
// service reports degraded.
const staleAfter = 300

type HealthResponse struct {
	Status         string           `json:"status"`
	WacliSync      sender.SyncState `json:"wacliSync"`
	LastMessageAge *int64           `json:"lastMessageAge"`
	DBAccessible   bool             `json:"dbAccessible"`
	Timestamp      int64            `json:"timestamp"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := deps.Now().Unix()
		resp := HealthResponse{Timestamp: now, WacliSync: sender.SyncStopped}

		// supervisorctl and the store are probed concurrently.
		var g errgroup.Group
		if deps.Messages != nil {
			g.Go(func() error {
				last, ok, err := deps.Messages.LastMessageTimestamp(r.Context())
				if err != nil {
					return nil
				}
				resp.DBAccessible = true
				if ok {
					age := now - last
					resp.LastMessageAge = &age
				}
				return nil
			})
		}
		if deps.Sender != nil {
			g.Go(func() error {
				resp.WacliSync = deps.Sender.SyncStatus(r.Context())
				return nil
			})
		}
		g.Wait()

		switch {
		case !resp.DBAccessible:
			resp.Status = "error"
		case resp.WacliSync == sender.SyncRunning && resp.LastMessageAge != nil && *resp.LastMessageAge < staleAfter:
			resp.Status = "ok"
		default:
			resp.Status = "degraded"
		}

		noStore(w)
		writeJSON(w, http.StatusOK, resp)
	}
}
