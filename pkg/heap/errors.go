package heap

import "github.com/pkg/errors"

var (
	ErrShortPage      = errors.New("page data shorter than page size")
	ErrDescMismatch   = errors.New("tuple descriptor does not match page")
	ErrPageFull       = errors.New("no free slot on page")
	ErrNoRecordID     = errors.New("tuple has no record id")
	ErrTupleNotFound  = errors.New("tuple not found")
	ErrPageOutOfRange = errors.New("page number out of range")
	ErrWrongTable     = errors.New("page belongs to another table")
	ErrNoSource       = errors.New("heap file has no page source")
)
