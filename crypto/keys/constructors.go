package keys

import (
	sagecrypto "github.com/sage-x-project/securestream/crypto"
	"github.com/sage-x-project/securestream/crypto/storage"
)

// init wires crypto's package-level indirection (crypto/wrappers.go) to
// this package's concrete key generators and crypto/storage's concrete
// storage constructor, the same way internal/cryptoinit did for the
// teacher's Ed25519/Secp256k1/formats trio — retargeted to this module's
// RSA key-transport and ECDH-P256 key-agreement key types, with no
// formats indirection since this module has no JWK/PEM export CLI surface
// beyond the PEM helpers already on rsaKeyPair/ECDHP256KeyPair.
func init() {
	sagecrypto.SetKeyGenerators(
		func() (sagecrypto.KeyPair, error) { return GenerateRSAKeyPair() },
		func() (sagecrypto.KeyPair, error) { return GenerateECDHP256KeyPair() },
	)
	sagecrypto.SetStorageConstructors(
		func() sagecrypto.KeyStorage { return storage.NewMemoryKeyStorage() },
	)
}
