package rpc

import "errors"

// ErrDaemonUnavailable indicates that the wot daemon could not be reached.
var ErrDaemonUnavailable = errors.New("daemon unavailable")
