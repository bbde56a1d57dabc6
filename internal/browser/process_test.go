package browser

import (
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewProcessBusyPort tests attaching instead of launching
func TestNewProcessBusyPort(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	assert.False(t, IsPortAvailable(strconv.Itoa(port)))

	_, err = NewProcess("/usr/bin/chromium", port, "")
	require.ErrorIs(t, err, ErrPortInUse)
}

// TestProcessFlags tests temp profiles and the flag set
func TestProcessFlags(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	p, err := NewProcess("/usr/bin/chromium", port, "")
	require.NoError(t, err)
	defer os.RemoveAll(p.UserDataDir)

	assert.True(t, p.ownsDataDir)
	assert.Equal(t, StatusStarting, p.Status)
	assert.Contains(t, p.buildFlags(), "--remote-debugging-port="+strconv.Itoa(port))
	assert.NotContains(t, p.buildFlags(), "--headless=new")

	p.Headless = true
	assert.Contains(t, p.buildFlags(), "--headless=new")

	assert.False(t, p.IsAlive())
	assert.Zero(t, p.GetPID())
	require.Error(t, p.Stop())
	assert.Equal(t, "http://localhost:"+strconv.Itoa(port), p.GetDebugURL())
}

// TestUserProfileIsKept tests that a given profile dir is created and owned by the user
func TestUserProfileIsKept(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	dir := t.TempDir() + "/profile"
	p, err := NewProcess("/usr/bin/chromium", port, dir)
	require.NoError(t, err)
	assert.False(t, p.ownsDataDir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
