package segment

import (
	"errors"
	"fmt"
)

var (
	ErrRecordTooLarge     = errors.New("record does not fit in a segment")
	ErrValueTooLarge      = errors.New("value too large to inline")
	ErrValueTooSmall      = errors.New("value small enough to inline")
	ErrBlobIDTooLong      = errors.New("blob id too long for the small blob id form")
	ErrNoBlobRecorder     = errors.New("blob record written without a blob reference recorder")
	ErrUnsupportedVersion = errors.New("unsupported segment version")
	ErrInvalidLimits      = errors.New("invalid record limits")
	ErrInvalidTemplate    = errors.New("invalid template")
)

var (
	ErrBadMagic         = errors.New("not a segment")
	ErrChecksum         = errors.New("segment checksum mismatch")
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrUnknownReference = errors.New("record id references a segment unknown to this segment")
	ErrNotFound         = errors.New("not found")
)

// DataError reports bytes that cannot be decoded, with the offending
// offset and an excerpt of the data.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 32
	const suffixLen = 16
	n := len(e.Data)
	var excerpt string
	if n <= prefixLen+suffixLen {
		excerpt = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		excerpt = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: %s", e.Msg, e.Off, e.Err, excerpt)
	}
	return fmt.Sprintf("%s at %d: %s", e.Msg, e.Off, excerpt)
}
