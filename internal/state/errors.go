package state

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrSourceNotFound     = errors.New("source not found")
	ErrNotJoined          = errors.New("connection has not joined")
	ErrAlreadyJoined      = errors.New("connection already joined")
	ErrInvalidBan         = errors.New("ban needs an ip mask or a username")
)
