package store

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrGarbageCollectDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeGarbageCollectDB, lib.StorageModule, fmt.Sprintf("garbageCollectDB() failed with err: %s", err.Error()))
}

func ErrFlushBatch(err error) lib.ErrorI {
	return lib.NewError(lib.CodeFlushBatch, lib.StorageModule, fmt.Sprintf("flushBatch() failed with err: %s", err.Error()))
}

func ErrKeyTooLarge(size int) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidKey, lib.StorageModule, fmt.Sprintf("key of %d bytes exceeds the maximum %d", size, maxKeyBytes))
}
