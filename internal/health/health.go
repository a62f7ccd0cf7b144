package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Status struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Database  bool   `json:"database,omitempty"`
	ChatStore bool   `json:"chat_store,omitempty"`
}

// HTTPHandler reports liveness of the agent's two dependencies: the remote
// backend and the local chat store. Either being nil/empty skips that check.
func HTTPHandler(pool *pgxpool.Pool, chatDBPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true, ChatStore: true}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
			}
		}
		if chatDBPath != "" {
			if _, err := os.Stat(chatDBPath); err != nil {
				st.OK = false
				st.Message = "chat store unavailable"
				st.ChatStore = false
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
