package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindExhausted         ErrorKind = "exhausted"
	KindConnectFailed     ErrorKind = "connect_failed"
	KindConnectionLost    ErrorKind = "connection_lost"
	KindScriptUnavailable ErrorKind = "script_unavailable"
	KindTimeout           ErrorKind = "timeout"
	KindPoolClosed        ErrorKind = "pool_closed"
	KindNoConnector       ErrorKind = "no_connector"
)

// Error é o erro tipado da camada. Op identifica a operação (ex: "pool.acquire").
//
// errors.Is(err, ErrExhausted) compara apenas o Kind, então um erro com Op/Err
// preenchidos continua casando com o sentinel correspondente.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

var (
	ErrExhausted         = &Error{Kind: KindExhausted}
	ErrConnectFailed     = &Error{Kind: KindConnectFailed}
	ErrConnectionLost    = &Error{Kind: KindConnectionLost}
	ErrScriptUnavailable = &Error{Kind: KindScriptUnavailable}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrPoolClosed        = &Error{Kind: KindPoolClosed}
	ErrNoConnector       = &Error{Kind: KindNoConnector}
)

func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf devolve o Kind do primeiro *Error na cadeia, ou "" se não houver.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
