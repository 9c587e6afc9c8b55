package session

import "errors"

var (
	// ErrSessionBusy is returned when Toggle is called while a previous
	// session is still finalizing.
	ErrSessionBusy = errors.New("a session is still being processed")

	// ErrPatientRequired is returned when a session is started without a
	// patient identifier.
	ErrPatientRequired = errors.New("a patient id is required to start a session")
)
