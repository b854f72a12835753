package hub

import "errors"

var (
	ErrAuthRejected      = errors.New("authentication failed")
	ErrProfileNotFound   = errors.New("driver profile not found")
	ErrInvalidLocation   = errors.New("invalid location data")
	ErrNoVehicleAssigned = errors.New("no vehicle assigned")
	ErrNoActiveTrip      = errors.New("no active trip")
	ErrStartFailed       = errors.New("failed to start trip")
	ErrEndFailed         = errors.New("failed to end trip")
	ErrOperationFailed   = errors.New("operation failed")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

var errorKinds = []struct {
	err  error
	code string
}{
	{ErrAuthRejected, "AuthRejected"},
	{ErrProfileNotFound, "ProfileNotFound"},
	{ErrInvalidLocation, "InvalidLocation"},
	{ErrNoVehicleAssigned, "NoVehicleAssigned"},
	{ErrNoActiveTrip, "NoActiveTrip"},
	{ErrStartFailed, "StartFailed"},
	{ErrEndFailed, "EndFailed"},
	{ErrUnknownEvent, "UnknownEvent"},
	{ErrInvalidPayload, "InvalidPayload"},
	{ErrRateLimited, "RateLimited"},
	{ErrOperationFailed, "OperationFailed"},
}

// classify maps a handler error to the code and message sent to the client.
// Anything not in the taxonomy is an unexpected store error and is reported
// as OperationFailed without its details.
func classify(err error) (code, message string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code, k.err.Error()
		}
	}
	return "OperationFailed", ErrOperationFailed.Error()
}
