package zaputils

import (
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

func OpCode(key string, val fmt.Stringer) zap.Field {
	return zap.Stringer(key, val)
}

// Key logs a memcached key.  Keys are normally printable, but binary keys are
// logged as bytes rather than mangled into a string.
func Key(key string, val []byte) zap.Field {
	if !utf8.Valid(val) {
		return zap.Binary(key, val)
	}
	return zap.String(key, string(val))
}
