package password

// CountKDFCalls replaces the key derivation with a counting wrapper and
// returns a pointer to the counter. The original is restored on cleanup.
func CountKDFCalls(t interface{ Cleanup(func()) }) *int {
	var calls int
	orig := deriveKey
	deriveKey = func(password, salt []byte, n, r, p, keyLen int) ([]byte, error) {
		calls++
		return orig(password, salt, n, r, p, keyLen)
	}
	t.Cleanup(func() { deriveKey = orig })

	return &calls
}
