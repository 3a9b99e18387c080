package agenterr

import "errors"

var (
	ErrVisitorRequired = errors.New("visitor id required")
	ErrMessageRequired = errors.New("message required")
	ErrProbeUnknown    = errors.New("probe unknown")
	ErrProbeAnswered   = errors.New("probe already answered")
)
