package suite

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/visreg/archive"
)

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// httpStatus maps an endpoint error to a response code.
func httpStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
