package services

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
)

const (
	connectionTimeout = 10 * time.Second
)

// buildAddress builds a host:port address string
func buildAddress(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// testIMAPConnectionInternal checks that the IMAP server is reachable and
// the credentials authenticate
func testIMAPConnectionInternal(addr, username, credential string, useSSL bool) ConnectionTestResult {
	dialer := &net.Dialer{Timeout: connectionTimeout}

	var c *client.Client
	var err error

	if useSSL {
		host, _, _ := net.SplitHostPort(addr)
		tlsConfig := &tls.Config{ServerName: host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if dialErr != nil {
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("Failed to connect to IMAP server: %v", dialErr),
			}
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("IMAP handshake failed: %v", err),
			}
		}
	} else {
		conn, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("Failed to connect to IMAP server: %v", dialErr),
			}
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("IMAP handshake failed: %v", err),
			}
		}
	}
	defer c.Logout()

	c.Timeout = connectionTimeout

	if err := c.Login(username, credential); err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("IMAP authentication failed: %v", err),
		}
	}

	return ConnectionTestResult{
		Success: true,
		Message: "IMAP connection and authentication successful",
	}
}
