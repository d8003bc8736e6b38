package stream

import (
	"errors"
	"fmt"

	"remoteio/internal/wire"
)

var (
	ErrState             = errors.New("state error")
	ErrUnknownConnection = fmt.Errorf("%w: unknown connection", ErrState)
	ErrNotConnected      = fmt.Errorf("%w: not connected", ErrState)
	ErrAlreadyConnected  = fmt.Errorf("%w: already connected", ErrState)
	ErrConnecting        = fmt.Errorf("%w: connect in progress", ErrState)
	ErrClientClosed      = fmt.Errorf("%w: client closed", ErrState)

	ErrUnexpectedMessage = fmt.Errorf("%w: unexpected message", wire.ErrProtocol)

	errIdle           = errors.New("idle timeout")
	errConnectionDead = fmt.Errorf("%w: connection is dead", ErrState)
)
