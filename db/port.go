package db

import (
	"fmt"
	"net"
)

// GetFreePort asks the kernel for a free TCP port on host ("127.0.0.1" when
// empty). The port is released before returning.
func GetFreePort(host string) (int, error) {
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to listen on tcp port 0: %w", err)
	}
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	if port == 0 {
		return 0, fmt.Errorf("kernel assigned port 0 unexpectedly")
	}
	return port, nil
}
