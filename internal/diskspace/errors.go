package diskspace

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrInsufficientSpace  = errors.New("insufficient disk space")
	ErrNoExistingAncestor = errors.New("no existing ancestor")
	ErrProbeUnsupported   = errors.New("free space probe not supported on this platform")
)

var printer = message.NewPrinter(language.English)

// InsufficientSpaceError reports a volume that cannot hold the environment.
type InsufficientSpaceError struct {
	Path   string
	Free   uint64
	Needed uint64
}

func (e *InsufficientSpaceError) Error() string {
	return printer.Sprintf(
		"insufficient disk space at %s: %d bytes free, %d bytes needed",
		e.Path, e.Free, e.Needed,
	)
}

func (e *InsufficientSpaceError) Unwrap() error {
	return ErrInsufficientSpace
}

// FormatBytes renders a byte count with thousands separators.
func FormatBytes(n uint64) string {
	return printer.Sprintf("%d bytes", n)
}
