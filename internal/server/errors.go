package server

import "errors"

var (
	ErrServer   = errors.New("server error")
	ErrProtocol = errors.New("protocol error")
	ErrRemote   = errors.New("daemon request failed")
)
