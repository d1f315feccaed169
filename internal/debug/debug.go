package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("ADE_CRYPT_DEBUG") != ""

// Print writes a development trace line to stderr when ADE_CRYPT_DEBUG is set.
// Never pass key material or plaintext to this function.
func Print(format string, args ...interface{}) {
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
