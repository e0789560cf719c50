// Package transports imports all built-in dispatchers for auto-registration.
// Import this package to have all dispatchers registered with the default registry.
package transports

import (
	// Import all dispatchers for side-effect registration
	_ "github.com/drblury/kernelbus/transport/channel"
	_ "github.com/drblury/kernelbus/transport/direct"
)
