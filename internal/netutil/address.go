// Package netutil holds validation helpers shared by the listeners.
package netutil

import (
	"net"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ListenAddress validates a host:port listen address. The host may be empty
// to listen on all interfaces; port 0 asks the OS for a free port.
var ListenAddress = validation.By(validateListenAddress)

func validateListenAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be between 0 and 65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
