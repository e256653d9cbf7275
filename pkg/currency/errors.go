package currency

import (
	"kelvin-core/pkg/errno"
)

// CheckNetwork returns errno.ErrInvalidNetwork unless network is one of networks.
func CheckNetwork(networks []string, network string) error {
	for _, n := range networks {
		if n == network {
			return nil
		}
	}
	return errno.ErrInvalidNetwork.New("%q", network)
}
