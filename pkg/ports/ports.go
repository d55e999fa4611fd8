package ports

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
)

// IsPortAvailable checks if a port is free on host by attempting to listen on it
func IsPortAvailable(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// FindAvailablePort finds an available port on host starting from startPort.
// If it is in use, random ports in [startPort, startPort+1000] are tried.
func FindAvailablePort(host string, startPort int) (int, error) {
	if IsPortAvailable(host, startPort) {
		return startPort, nil
	}

	maxPort := startPort + 1000
	if maxPort > 65535 {
		maxPort = 65535
	}
	return FindAvailablePortInRange(host, startPort, maxPort)
}

// FindAvailablePortInRange finds an available port in the specified range
func FindAvailablePortInRange(host string, minPort, maxPort int) (int, error) {
	if minPort > maxPort {
		return 0, fmt.Errorf("minPort (%d) must be <= maxPort (%d)", minPort, maxPort)
	}

	maxAttempts := 50
	for attempts := 0; attempts < maxAttempts; attempts++ {
		randomPort := minPort + rand.Intn(maxPort-minPort+1)
		if IsPortAvailable(host, randomPort) {
			return randomPort, nil
		}
	}

	return 0, fmt.Errorf("unable to find available port after %d attempts in range %d-%d", maxAttempts, minPort, maxPort)
}

// Ephemeral asks the kernel for n distinct free ports on host. All sockets
// are held until every port is known so the results never collide.
func Ephemeral(host string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate port: %w", err)
		}
		listeners = append(listeners, l)
		out = append(out, l.Addr().(*net.TCPAddr).Port)
	}
	return out, nil
}
