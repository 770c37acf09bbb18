package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateQuarter indicates a VAT quarter already covers the period.
	ErrDuplicateQuarter = errors.New("vat quarter already exists for period")
	// ErrUnknownQuarterGroup indicates a client carries an unrecognised quarter group.
	ErrUnknownQuarterGroup = errors.New("unknown vat quarter group")
)
