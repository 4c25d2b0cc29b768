//go:build !linux

package transport

const pollSupported = false

func openPoll(_ SerialConfig) (Transport, error) {
	return nil, ErrBackendUnsupported
}
