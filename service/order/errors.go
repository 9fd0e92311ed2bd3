package order

import (
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError names the product that could not be reserved. It
// matches both ErrInsufficientStock and commonerrors.ErrInvalid.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%v for product %s: requested %d, available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == commonerrors.ErrInvalid
}
