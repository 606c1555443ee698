//go:build linux

package rtp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setSockOptBuffers(fd, size int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", size, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", size, err)
	}
	return nil
}

// setSockOptDSCP DSCP в старших 6 битах TOS/TCLASS
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		// в некоторых контейнерах TOS недоступен
		return nil
	}
	// для IPv4 сокета вернет ошибку, игнорируем
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}

func setSockOptPriority(fd, priority int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, priority)
}
