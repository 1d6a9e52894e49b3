//go:build !linux && !darwin

package evloop

func createWakeFd() (int, int, error) {
	return -1, -1, ErrBackendUnsupported
}
