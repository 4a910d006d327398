package vma

import "github.com/cockroachdb/errors"

// ErrExhausted is returned from Arena.Alloc when no free range in the zone can hold the request
var ErrExhausted = errors.New("virtual address zone exhausted")

// ErrInvalidFree is returned from Arena.Free when the range was not handed out by Alloc
var ErrInvalidFree = errors.New("range was not allocated from this zone")

// ErrInvalidZone is returned when an unknown zone is passed to the Arena
var ErrInvalidZone = errors.New("unknown zone")

// ErrInvalidLayout is returned from New when the zone layout is inconsistent
var ErrInvalidLayout = errors.New("invalid zone layout")
