package loadtest

import (
	"context"
	"errors"
	"net"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
)

// ClassifyError maps a transport failure to a status class.
//
// Requests cut short by an aborted iteration are errors even when the
// underlying failure looks like a timeout. Otherwise deadline and network
// timeouts are "timeout" and everything else (refused, reset, DNS) is
// "error".
func ClassifyError(err error, aborted bool) metrics.StatusClass {
	if aborted || err == nil {
		return metrics.ClassError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metrics.ClassTimeout
	}
	return metrics.ClassError
}
