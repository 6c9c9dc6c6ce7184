package chat

import "errors"

var (
	// ErrGuestSession is returned by operations that require an authenticated session
	ErrGuestSession         = errors.New("operation requires a signed-in user")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrEmptyMessage         = errors.New("message content is empty")
	// ErrSyncFailed wraps remote store failures that left local state untouched
	ErrSyncFailed = errors.New("remote store unavailable")
)
