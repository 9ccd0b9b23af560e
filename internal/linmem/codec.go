package linmem

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// DecodeUTF8 reads [ptr, ptr+length) from the view and returns it as text.
// Validation is strict: malformed sequences fail with *DecodeError instead
// of being replaced, and a leading byte-order mark is kept as part of the text.
func DecodeUTF8(v *View, ptr, length uint32) (string, error) {
	buf, err := v.Read(ptr, length)
	if err != nil {
		return "", err
	}
	return decode(buf, ptr)
}

func decode(buf []byte, ptr uint32) (string, error) {
	out, n, err := transform.Bytes(encoding.UTF8Validator, buf)
	if err != nil {
		return "", &DecodeError{
			Address: ptr,
			Length:  uint32(len(buf)),
			Offset:  n,
			Err:     err,
		}
	}
	return string(out), nil
}
