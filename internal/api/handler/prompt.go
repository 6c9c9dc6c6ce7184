package handler

import (
	"net/http"

	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/prompt"
	"github.com/go-chi/chi/v5"
)

// PromptHandler manages the session's system prompts
type PromptHandler struct{}

func NewPromptHandler() *PromptHandler {
	return &PromptHandler{}
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}
	response.OK(w, store.Prompts().List())
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	var input prompt.Input
	if !decode(w, r, &input) {
		return
	}

	created, err := store.Prompts().Create(input)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, created)
}

func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	var input prompt.Input
	if !decode(w, r, &input) {
		return
	}

	updated, err := store.Prompts().Update(chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, updated)
}

func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	if err := store.Prompts().Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

// Activate makes the prompt the only active one
func (h *PromptHandler) Activate(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	activated, err := store.Prompts().Activate(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, activated)
}

// Deactivate clears the active prompt
func (h *PromptHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	store.Prompts().Deactivate()
	response.NoContent(w)
}
