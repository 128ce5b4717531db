package tagmap

import "errors"

var (
	// ErrUnknownKind indicates a transport or signal kind outside the known set.
	ErrUnknownKind = errors.New("tagmap: unknown kind")
	// ErrUnknownDriver indicates an engine driver no registry entry matches.
	ErrUnknownDriver = errors.New("tagmap: unknown driver")
	// ErrUnknownTransport indicates an engine referencing an undeclared transport.
	ErrUnknownTransport = errors.New("tagmap: unknown transport")
	// ErrUnknownEngine indicates a signal referencing an undeclared engine.
	ErrUnknownEngine = errors.New("tagmap: unknown engine")
	// ErrDuplicateName indicates two signals sharing one name.
	ErrDuplicateName = errors.New("tagmap: duplicate signal name")
)
