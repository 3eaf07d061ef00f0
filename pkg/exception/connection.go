package exception

import "github.com/yanun0323/errors"

var (
	ErrAuthenticationMissing = errors.New("connection: authentication token missing")
	ErrTransport             = errors.New("connection: transport error")
	ErrConnectAborted        = errors.New("connection: connect aborted by disconnect")
	ErrInvalidSubscriber     = errors.New("connection: empty subscriber id")
	ErrNilTokenSource        = errors.New("connection: nil token source")
)
