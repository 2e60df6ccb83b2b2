package domain

import "errors"

// Errores de validación del ledger y del motor. Siempre se devuelven
// envueltos con contexto; comparar con errors.Is.
var (
	ErrDuplicateMarket = errors.New("position already open for market")
	ErrInvalidPrice    = errors.New("price outside (0,1)")
	ErrLossGuaranteed  = errors.New("yes_price + no_price > 1 guarantees a loss")
	ErrNonPositiveSize = errors.New("size must be positive")
	ErrMarketNotFound  = errors.New("market not found")
	ErrStateNotFound   = errors.New("persisted state not found")
	ErrInvalidWindow   = errors.New("invalid market window")
)
