package merge

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// User input errors. They end the run without output and are reported to
// the user, not logged as failures.
var (
	ErrNoSelection = errors.New("no fiducial selected")
	ErrNoFiducials = errors.New("no fiducials within fiducial set")
)

// ValidationError reports a fiducial that resolved to a reserved label.
type ValidationError struct {
	Fiducial string
	Volume   string
	Label    int
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("Incorrect value used for one of the fiducials.\n")
	b.WriteString("Cannot have a label that is background (pixel value 1) or watershed line (pixel value 0).\n\n")
	b.WriteString("Please check:\n")
	fmt.Fprintf(&b, "Fiducial: %s\n", e.Fiducial)
	fmt.Fprintf(&b, "Label map: %s\n", e.Volume)
	return b.String()
}

// IsUserError reports whether err is an expected condition to show the user
// rather than a failure.
func IsUserError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNoSelection) || errors.Is(err, ErrNoFiducials) || errors.As(err, &ve)
}
