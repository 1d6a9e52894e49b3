//go:build !linux && !darwin

package evloop

func (l *Loop) watchChildren() error {
	return usageError("Child.Start", ErrBackendUnsupported)
}

func (l *Loop) unwatchChildren() {}

func (l *Loop) reapChildren() {}
