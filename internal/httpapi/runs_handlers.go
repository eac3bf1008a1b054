package httpapi

import (
	"net/http"
	"strconv"

	"offerscope/internal/history"
)

type RunsHandler struct {
	History *history.DB
}

func (h RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "run history unavailable", err.Error())
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, runs)
}
