package handlers

import (
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  a.Sessions.Len(),
		"providers": a.Providers.Names(),
		"uptime_s":  int(time.Since(a.Started).Seconds()),
	})
}
