package upstream

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
)

// troubleshooting is printed once when the endpoint cannot be reached
var troubleshooting = []string{
	"Troubleshooting:",
	"  - Is WinCC Unified running with debugging enabled?",
	"  - Check firewall rules for port 9222 (in/out)",
	"  - If remote: verify netsh portproxy is configured",
	"  - After Windows restart: delete and re-add netsh rules",
	"  - Run with --help for detailed setup instructions",
}

// retryReportInterval caps how often "Retrying..." is repeated after the first one
const retryReportInterval = 30 * time.Second

// WaitForConnectivity blocks until the endpoint accepts a TCP connection,
// probing every interval. It returns ctx.Err() when cancelled first.
func WaitForConnectivity(ctx context.Context, c *Client, interval time.Duration, log logrus.FieldLogger) error {
	hints := rate.Sometimes{First: 1}
	retries := rate.Sometimes{First: 1, Interval: retryReportInterval}

	for {
		log.Debugf("Checking TCP connectivity to %s...", c.Addr())

		err := c.Probe(ctx)
		if err == nil {
			logging.Success(log, "Target %s is reachable", c.Addr())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hints.Do(func() {
			cause := err
			var uerr *Error
			if errors.As(err, &uerr) {
				cause = uerr.Err
			}
			var netErr net.Error
			if errors.As(cause, &netErr) && netErr.Timeout() {
				log.Warnf("Connection to %s timed out", c.Addr())
			} else {
				log.Warnf("Cannot connect to %s: %v", c.Addr(), cause)
			}
			for _, line := range troubleshooting {
				log.Warn(line)
			}
		})
		retries.Do(func() {
			log.Infof("Retrying in %s...", interval)
		})

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
