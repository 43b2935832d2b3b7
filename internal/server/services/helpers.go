package services

import (
	"errors"

	"github.com/e2chat/keyserver/internal/common"
)

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
