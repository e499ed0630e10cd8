//go:build debug_heap

package hoard

import "encoding/binary"

const (
	// DebugMargin is the number of bytes of canary data placed between
	// each allocation's payload and its footer tag
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied across
	// the canary region of every allocated block
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes
// at the provided heap offset.
// This method no-ops unless the debug_heap build tag is present.
func WriteMagicValue(heap []byte, offset int) {
	for i := 0; i < DebugMargin; i += 4 {
		binary.LittleEndian.PutUint32(heap[offset+i:], corruptionDetectionMagicValue)
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by
// WriteMagicValue is still present. It returns true if the value is still
// present and false otherwise.
// This method no-ops unless the debug_heap build tag is present.
func ValidateMagicValue(heap []byte, offset int) bool {
	for i := 0; i < DebugMargin; i += 4 {
		if binary.LittleEndian.Uint32(heap[offset+i:]) != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_heap build tag
// is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power
// of two, and panics if it is not. This method no-ops unless the debug_heap
// build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
