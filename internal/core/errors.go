package core

import "errors"

var (
	ErrAuthorization = errors.New("authorization failed")
	ErrRoutingEngine = errors.New("routing engine failure")

	ErrPeerNotFound      = errors.New("peer not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")

	ErrPeerClosed    = errors.New("peer closed")
	ErrAlreadyJoined = errors.New("already joined another room")
	ErrRoomExists    = errors.New("room already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrCannotConsume = errors.New("cannot consume")

	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)
