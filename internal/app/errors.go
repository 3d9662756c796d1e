package app

import (
	"fmt"
	"net/http"
)

// DomainError is a failure decided by the service layer rather than the
// sync engine. It carries its own HTTP status.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func forbidden() error {
	return &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
}

func invalidCredential() error {
	return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Access token rejected"}
}
