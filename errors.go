package tasking

import "errors"

var (
	// Store errors.
	ErrNoStore  = errors.New("tasking: no store configured")
	ErrNoBroker = errors.New("tasking: no broker configured")

	// Broker errors.
	ErrBrokerClosed = errors.New("tasking: broker closed")

	// Not found errors.
	ErrTaskNotFound        = errors.New("tasking: task not found")
	ErrWorkerNotFound      = errors.New("tasking: worker not found")
	ErrReservationNotFound = errors.New("tasking: reservation not found")

	// Conflict errors.
	ErrTaskAlreadyExists        = errors.New("tasking: task already exists")
	ErrReservationAlreadyExists = errors.New("tasking: reservation already exists")
	ErrReservationConflict      = errors.New("tasking: resource reserved by another worker")

	// State errors.
	ErrInvalidState = errors.New("tasking: invalid state transition")
	ErrTaskFinal    = errors.New("tasking: task already in a final state")
	ErrTaskCanceled = errors.New("tasking: task canceled")

	// Routing errors.
	ErrNoWorkersAvailable = errors.New("tasking: no workers available")

	// Configuration errors.
	ErrInvalidConfig = errors.New("tasking: invalid configuration")
)
