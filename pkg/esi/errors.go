package esi

import (
	"errors"
	"fmt"
)

var (
	ErrScan           = errors.New("esi: malformed directive")
	ErrConfig         = errors.New("esi: invalid configuration")
	ErrFetch          = errors.New("esi: fragment fetch failed")
	ErrRecursionLimit = errors.New("esi: recursion limit reached")
	ErrDecode         = errors.New("esi: body is not valid utf-8")
)

// ScanError reports one malformed directive. The directive is left in the output as written.
type ScanError struct {
	Start  int
	End    int
	Tag    string
	Reason string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("esi: malformed %s at offset %d: %s", e.Tag, e.Start, e.Reason)
}

func (e *ScanError) Is(target error) bool { return target == ErrScan }

// ConfigError reports an include that cannot be turned into a fetch URL.
type ConfigError struct {
	Src    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("esi: cannot resolve src %q: %s", e.Src, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

type FetchReason string

const (
	FetchTimeout  FetchReason = "timeout"
	FetchNetwork  FetchReason = "network"
	FetchStatus   FetchReason = "status"
	FetchTooLarge FetchReason = "too_large"
	FetchCanceled FetchReason = "canceled"
)

// FetchError is the failure outcome of a single fragment fetch.
type FetchError struct {
	URL        string
	Reason     FetchReason
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Reason == FetchStatus:
		return fmt.Sprintf("esi: fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("esi: fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	default:
		return fmt.Sprintf("esi: fetch %s: %s", e.URL, e.Reason)
	}
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }
