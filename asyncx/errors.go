package asyncx

import (
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBrokerUnavailable is returned by Enqueue when the task could not be
	// handed to the broker transport, or its record could not reach a remote
	// result backend.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrUnknownTask means the id was never issued or its record was evicted.
	ErrUnknownTask = errors.New("unknown task")
	// ErrAlreadyFinished is returned when a transition targets a task that
	// already reached SUCCESS or FAILURE.
	ErrAlreadyFinished = errors.New("task already finished")
)

// isTransportError reports whether err came from reaching a remote server
// rather than from the server's answer.
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}
