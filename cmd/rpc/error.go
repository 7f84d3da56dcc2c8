package rpc

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrNotFound(what string) lib.ErrorI {
	return lib.NewError(lib.CodeNotFound, lib.RPCModule, fmt.Sprintf("%s not found", what))
}

func ErrNotSupported(msg string) lib.ErrorI {
	return lib.NewError(lib.CodeNotSupported, lib.RPCModule, msg)
}
