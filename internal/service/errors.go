package service

import "errors"

// Domain errors; handlers map them to HTTP status codes with errors.Is.
var (
	ErrUsernameTaken        = errors.New("username taken")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("user is not a participant of the conversation")
	ErrForbidden            = errors.New("operation not allowed for this user")
	ErrEmptyContent         = errors.New("message content is empty")
	ErrContentTooLong       = errors.New("message content is too long")
	ErrInvalidParticipants  = errors.New("a conversation needs at least two distinct participants")
	ErrInvalidReaction      = errors.New("invalid reaction emoji")
	ErrMessageDeleted       = errors.New("message was deleted")
	ErrReplyOutsideThread   = errors.New("reply target belongs to another conversation")
)
