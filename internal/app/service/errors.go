package service

import (
	"errors"

	"github.com/sifan077/linkpay/internal/app/repository"
)

var (
	ErrInvalidURL          = errors.New("invalid destination url")
	ErrInvalidCustomCode   = errors.New("invalid custom code")
	ErrInvalidInput        = errors.New("invalid input")
	ErrAllocationExhausted = errors.New("short code allocation exhausted")
	ErrLinkInactive        = errors.New("link is not active")
	ErrLinkExpired         = errors.New("link expired")
	ErrShortCodeImmutable  = errors.New("short code cannot be changed")
	ErrForbidden           = errors.New("link belongs to another owner")
	ErrInvalidPeriod       = errors.New("invalid analytics period")
	ErrPasswordRequired    = errors.New("link password required")
	ErrInvalidPassword     = errors.New("link password does not match")

	// ErrAggregatePartial means the click was appended but at least one rollup
	// update failed. The link is queued for reconciliation.
	ErrAggregatePartial = errors.New("click recorded with partial aggregate update")

	// Shared with the storage layer so errors.Is matches either side.
	ErrCodeTaken    = repository.ErrCodeTaken
	ErrLinkNotFound = repository.ErrLinkNotFound
)
