package conference

import "errors"

var (
	ErrRoomExists        = errors.New("room already exists")
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrNotInRoom         = errors.New("connection is not in a room")
	ErrAlreadyInRoom     = errors.New("connection is already in a room")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrRouterNotReady    = errors.New("router is not ready")
	ErrCannotConsume     = errors.New("capabilities cannot consume producer")
	ErrRoomClosed        = errors.New("room is closed")
)
