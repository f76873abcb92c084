// Package server provides the HTTP REST API for the genome harvester.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/genome-harvester/internal/engine"
	"github.com/jonathan/genome-harvester/internal/ratelimit"
	"github.com/jonathan/genome-harvester/internal/schemas"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrResultsNotReady indicates a results request for a job that has not
// reached a terminal state yet
type ErrResultsNotReady struct {
	Status string
}

func (e *ErrResultsNotReady) Error() string {
	return fmt.Sprintf("results not available while job is %s", e.Status)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var circuitOpen *ratelimit.CircuitOpenError
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &circuitOpen):
		return http.StatusServiceUnavailable
	default:
	}

	switch err.(type) {
	case *ErrValidation, *schemas.ValidationError:
		return http.StatusBadRequest
	case *ErrResultsNotReady:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
