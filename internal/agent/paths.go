package agent

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	socketPrefix = "goprof-"
	socketSuffix = ".sock"
)

// RuntimeDir returns the directory holding agent sockets.
// Order of precedence (first wins):
// 1) GOPROF_RUNTIME_DIR
// 2) if runtime=linux: $XDG_RUNTIME_DIR or /run/user/<UID>
// 3) /tmp
func RuntimeDir() string {
	if rd := os.Getenv("GOPROF_RUNTIME_DIR"); rd != "" {
		return rd
	}
	if runtime.GOOS == "linux" {
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return v
		}
		dir := filepath.Join("/run/user", currentUID())
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	// keep it short to avoid the sun_path length limit
	return filepath.Join("/tmp", "goprof-"+currentUID())
}

// SocketPath returns the socket of the agent running in process pid.
// GOPROF_SOCKET overrides it for the local process.
func SocketPath(pid int) string {
	if explicit := os.Getenv("GOPROF_SOCKET"); explicit != "" && pid == os.Getpid() {
		return explicit
	}
	return filepath.Join(RuntimeDir(), socketPrefix+strconv.Itoa(pid)+socketSuffix)
}

// EnsureRuntimeDir creates the directory of path if it doesn't exist.
func EnsureRuntimeDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// pidFromSocket extracts the pid from a socket file name.
func pidFromSocket(name string) (int, bool) {
	if !strings.HasPrefix(name, socketPrefix) || !strings.HasSuffix(name, socketSuffix) {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, socketPrefix), socketSuffix))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// ResolveSocket turns a controller target into a socket path: a pid, or an
// explicit path.
func ResolveSocket(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		if explicit := os.Getenv("GOPROF_SOCKET"); explicit != "" {
			return explicit, nil
		}
		return "", fmt.Errorf("target pid or socket path is required")
	}
	if pid, err := strconv.Atoi(target); err == nil {
		if pid <= 0 {
			return "", fmt.Errorf("pid must be positive")
		}
		return filepath.Join(RuntimeDir(), socketPrefix+strconv.Itoa(pid)+socketSuffix), nil
	}
	return target, nil
}

func currentUID() string {
	u, err := user.Current()
	if err == nil && u != nil && u.Uid != "" {
		return u.Uid
	}
	return "0"
}
