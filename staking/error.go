package staking

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrSlashNonValidator(validatorID string) lib.ErrorI {
	return lib.NewError(lib.CodeSlashNonValidator, lib.StakingModule, fmt.Sprintf("cannot slash unknown validator %s", validatorID))
}
