package corpus

import "bytes"

// b2r wraps a byte slice in an io.Reader without copying.
func b2r(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
