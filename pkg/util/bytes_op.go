package util

import (
	"unsafe"
)

// Typed views over byte slices. Every access is bounds checked against
// the slice before reinterpreting the memory.

type FixedSize interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

func SizeOf[T FixedSize]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

func Load[T FixedSize](buf []byte, offset int) T {
	sz := SizeOf[T]()
	_ = buf[offset+sz-1]
	return *(*T)(unsafe.Pointer(&buf[offset]))
}

func Store[T FixedSize](val T, buf []byte, offset int) {
	sz := SizeOf[T]()
	_ = buf[offset+sz-1]
	*(*T)(unsafe.Pointer(&buf[offset])) = val
}

// ToSlice reinterprets data as a slice of T. len(data) must be a
// multiple of the element size.
func ToSlice[T FixedSize](data []byte) []T {
	sz := SizeOf[T]()
	if len(data) == 0 {
		return nil
	}
	AssertFunc(len(data)%sz == 0)
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/sz)
}

func Memset(buf []byte, val byte) {
	for i := range buf {
		buf[i] = val
	}
}

func UnsafeStringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
