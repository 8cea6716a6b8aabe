package collab

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomExists          = errors.New("room with this name already exists")
	ErrRoomFull            = errors.New("room is at capacity")
	ErrNotAMember          = errors.New("not a member of this room")
	ErrAlreadyMember       = errors.New("user is already a member")
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrSelfInvite          = errors.New("cannot invite yourself")
	ErrTooManyInvites      = errors.New("too many invitations")
	ErrInvitationNotFound  = errors.New("invitation not found")
	ErrInvitationProcessed = errors.New("invitation already processed")
	ErrNotInvitee          = errors.New("invitation addressed to another user")
	ErrUserNotFound        = errors.New("user not found")
	ErrEmptyRoomName       = errors.New("room name is required")
	ErrEmptyMessage        = errors.New("message content is required")
	ErrSessionActive       = errors.New("another room session is active")
	ErrNoActiveSession     = errors.New("no active room session")
)
