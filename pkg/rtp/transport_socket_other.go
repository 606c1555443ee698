//go:build !linux

package rtp

// На остальных платформах сокет остается с настройками по умолчанию.

func setSockOptBuffers(fd, size int) error {
	return nil
}

func setSockOptDSCP(fd, dscp int) error {
	return nil
}

func setSockOptPriority(fd, priority int) error {
	return nil
}
