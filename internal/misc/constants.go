package misc

const (
	// ArgonTime Key derivation parameters for the key-encryption key
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16

	// KeySize is the raw material length for symmetric keys (256 bit)
	KeySize = 32
)
