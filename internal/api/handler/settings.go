package handler

import (
	"net/http"

	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
)

// GetSettings returns the session's settings
func GetSettings(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}
	response.OK(w, store.Settings())
}

// UpdateSettings applies a partial settings update
func UpdateSettings(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	var patch chat.SettingsPatch
	if !decode(w, r, &patch) {
		return
	}
	response.OK(w, store.UpdateSettings(patch))
}
