package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/Rrens/healthchat/internal/api/middleware"
	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/prompt"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads and validates a JSON body, writing the error response itself
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		response.ValidationFailed(w, err)
		return false
	}
	return true
}

// storeFrom returns the session store attached by the session middleware
func storeFrom(w http.ResponseWriter, r *http.Request) (*chat.Store, bool) {
	store, ok := middleware.GetStore(r.Context())
	if !ok {
		log.Error().Str("path", r.URL.Path).Msg("no session store on request")
		response.InternalError(w, "session not resolved")
		return nil, false
	}
	return store, true
}

// writeError maps store and catalog errors to HTTP responses
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrGuestSession):
		response.Forbidden(w, err.Error())
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, prompt.ErrPromptNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, chat.ErrNoActiveConversation):
		response.Conflict(w, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, prompt.ErrInvalidPrompt),
		errors.Is(err, prompt.ErrInvalidCategory):
		response.BadRequest(w, err.Error())
	case errors.Is(err, prompt.ErrBuiltinPrompt):
		response.Forbidden(w, err.Error())
	case errors.Is(err, chat.ErrSyncFailed):
		response.BadGateway(w, chat.ErrSyncFailed.Error())
	default:
		log.Error().Err(err).Msg("unhandled handler error")
		response.InternalError(w, "internal server error")
	}
}
