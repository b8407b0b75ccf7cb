package wireguard

import (
	"github.com/pkg/errors"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeyPair is a Curve25519 key pair in WireGuard's encoding.
type KeyPair struct {
	Private wgtypes.Key
	Public  wgtypes.Key
}

// GenerateKeyPair creates a fresh key pair, equivalent to wg genkey | wg pubkey.
func GenerateKeyPair() (KeyPair, error) {
	pri, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "failed to generate private key")
	}
	return KeyPair{Private: pri, Public: pri.PublicKey()}, nil
}
