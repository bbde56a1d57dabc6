package browser

import (
	"net"
	"os"
	"path/filepath"
)

// DefaultDebugPort is Chrome's default remote debugging port
const DefaultDebugPort = 9222

// IsPortAvailable checks if a port is available by attempting to listen on it.
// A busy debug port usually means a debuggable browser is already running.
func IsPortAvailable(port string) bool {
	listener, err := net.Listen("tcp", "localhost:"+port)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// DefaultUserDataDir is the profile directory used for launched browsers
func DefaultUserDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "browser-usage-tracker", "profile")
}
