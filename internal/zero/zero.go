// Package zero contains functions to clear data from byte slices and
// multi-byte integer arrays.  The rationale is to reduce the lifetime of
// sensitive key material in memory rather than waiting for the garbage
// collector to reclaim it.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear private key material from memory.
//
// In general, prefer to use the fixed-sized zeroing functions (Bytea*)
// when zeroing bytes as they are much more efficient than the variable
// sized zeroing func Bytes.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Bytea32 clears the 32-byte array by filling it with the zero value.
// This is used to explicitly clear private key material from memory.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}

// Bytea64 clears the 64-byte array by filling it with the zero value.
// This is used to explicitly clear sensitive key material from memory.
func Bytea64(b *[64]byte) {
	*b = [64]byte{}
}
