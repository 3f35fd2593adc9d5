package domain

import "errors"

var ErrAccountNotFound = errors.New("account not found")
var ErrAccountAlreadyExists = errors.New("account already exists")
var ErrInvalidArgument = errors.New("invalid argument")
var ErrUnauthorized = errors.New("unauthorized")
var ErrAccountFrozen = errors.New("account frozen")
var ErrInsufficientBalance = errors.New("insufficient balance")
var ErrStoreUnavailable = errors.New("store unavailable")
