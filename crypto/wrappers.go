package crypto

// This file provides wrapper functions that will be implemented by a separate
// initialization package (crypto/keys) to avoid circular dependencies.

var (
	// generateRSAKeyPair is the implementation function for RSA key-transport
	// identity key generation.
	generateRSAKeyPair func() (KeyPair, error)

	// generateECDHP256KeyPair is the implementation function for ECDH P-256
	// key-agreement identity key generation.
	generateECDHP256KeyPair func() (KeyPair, error)

	// newMemoryKeyStorage is the implementation function for memory storage creation
	newMemoryKeyStorage func() KeyStorage
)

// SetKeyGenerators sets the key generation functions
func SetKeyGenerators(rsaGen, ecdhGen func() (KeyPair, error)) {
	generateRSAKeyPair = rsaGen
	generateECDHP256KeyPair = ecdhGen
}

// SetStorageConstructors sets the storage constructor functions
func SetStorageConstructors(memoryStorage func() KeyStorage) {
	newMemoryKeyStorage = memoryStorage
}

// NewRSAKeyPair generates a new RSA key-transport key pair
func NewRSAKeyPair() (KeyPair, error) {
	if generateRSAKeyPair == nil {
		panic("RSA key generator not initialized")
	}
	return generateRSAKeyPair()
}

// NewECDHP256KeyPair generates a new ECDH P-256 key-agreement key pair
func NewECDHP256KeyPair() (KeyPair, error) {
	if generateECDHP256KeyPair == nil {
		panic("ECDH P-256 key generator not initialized")
	}
	return generateECDHP256KeyPair()
}

// NewMemoryKeyStorage creates a new memory key storage
func NewMemoryKeyStorage() KeyStorage {
	if newMemoryKeyStorage == nil {
		panic("Memory key storage constructor not initialized")
	}
	return newMemoryKeyStorage()
}
