//go:build !linux && !darwin

package evloop

func closeFD(fd int) error { return ErrBackendUnsupported }

func readFD(fd int, buf []byte) (int, error) { return 0, ErrBackendUnsupported }

func writeFD(fd int, buf []byte) (int, error) { return 0, ErrBackendUnsupported }
