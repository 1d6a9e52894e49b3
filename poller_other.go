//go:build !linux && !darwin

package evloop

func newPlatformBackend() (Backend, error) {
	return nil, ErrBackendUnsupported
}
