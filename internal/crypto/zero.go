package crypto

// Zero overwrites b so key material and revealed plaintext do not linger
// in memory after use.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
