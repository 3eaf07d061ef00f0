package exception

import "github.com/yanun0323/errors"

var (
	ErrRESTStatus    = errors.New("rest: unexpected response status")
	ErrRESTNilClient = errors.New("rest: nil client")
)
