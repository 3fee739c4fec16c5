package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Listen opens the listener for addr. Plain addresses bind TCP; "unix://"
// binds a socket path, replacing a stale one; "fd://" adopts an inherited
// descriptor for socket activation.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return listenUnix(ctx, path)
	}

	if fdStr, ok := strings.CutPrefix(addr, "fd://"); ok {
		fd, err := strconv.Atoi(fdStr)
		if err != nil {
			return nil, err
		}
		return net.FileListener(os.NewFile(uintptr(fd), ""))
	}

	return listenTCP(ctx, addr)
}

func listenUnix(ctx context.Context, path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var lnConfig net.ListenConfig
	return lnConfig.Listen(ctx, "unix", path)
}

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
