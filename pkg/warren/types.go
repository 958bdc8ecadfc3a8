package warren

import (
	"fmt"
	"reflect"
	"unsafe"
)

// MessagingPattern selects the communication shape of a service. A name may
// be reused across patterns; each (name, pattern) pair is its own service.
type MessagingPattern string

const (
	// MessagingPatternPublishSubscribe streams samples from publishers to
	// subscribers.
	MessagingPatternPublishSubscribe MessagingPattern = "publish_subscribe"
	// MessagingPatternEvent delivers wake-up notifications from notifiers
	// to listeners.
	MessagingPatternEvent MessagingPattern = "event"
	// MessagingPatternRequestResponse pairs client requests with streams of
	// server responses.
	MessagingPatternRequestResponse MessagingPattern = "request_response"
	// MessagingPatternBlackboard shares a fixed key-value store between one
	// writer and many readers.
	MessagingPatternBlackboard MessagingPattern = "blackboard"
)

// Validate checks that the pattern is one of the supported values.
func (p MessagingPattern) Validate() error {
	switch p {
	case MessagingPatternPublishSubscribe, MessagingPatternEvent,
		MessagingPatternRequestResponse, MessagingPatternBlackboard:
		return nil
	default:
		return fmt.Errorf("invalid messaging pattern: %q", string(p))
	}
}

func (p MessagingPattern) String() string {
	return string(p)
}

// code returns the wire tag stored in segment headers.
func (p MessagingPattern) code() uint32 {
	switch p {
	case MessagingPatternPublishSubscribe:
		return 1
	case MessagingPatternEvent:
		return 2
	case MessagingPatternRequestResponse:
		return 3
	case MessagingPatternBlackboard:
		return 4
	default:
		return 0
	}
}

// TypeVariant describes how a payload type is laid out.
type TypeVariant string

const (
	// TypeVariantFixedSize is a single fixed-size value.
	TypeVariantFixedSize TypeVariant = "fixed_size"
	// TypeVariantDynamic is a runtime-sized slice of fixed-size elements.
	TypeVariantDynamic TypeVariant = "dynamic"
)

// TypeDetail identifies a payload, key or header type across processes.
// Two sides are compatible when name, size and alignment all agree.
type TypeDetail struct {
	Variant   TypeVariant `yaml:"variant"`    // fixed_size or dynamic
	TypeName  string      `yaml:"type_name"`  // package-qualified Go type name
	Size      uint64      `yaml:"size"`       // size of one element in bytes
	Alignment uint64      `yaml:"alignment"`  // required alignment in bytes
}

// Matches reports whether two descriptors describe the same wire type.
func (t TypeDetail) Matches(other TypeDetail) bool {
	return t.Variant == other.Variant &&
		t.TypeName == other.TypeName &&
		t.Size == other.Size &&
		t.Alignment == other.Alignment
}

func (t TypeDetail) String() string {
	return fmt.Sprintf("%s(%s, size=%d, align=%d)", t.Variant, t.TypeName, t.Size, t.Alignment)
}

// TypeDetailOf derives the descriptor for T. T must be self-contained: no
// pointers, maps, slices, strings, channels, functions or interfaces at any
// depth, since the bytes are shared with other processes as-is.
func TypeDetailOf[T any]() (TypeDetail, error) {
	t := reflect.TypeFor[T]()
	if err := checkSelfContained(t, t.String()); err != nil {
		return TypeDetail{}, err
	}
	if t.Size() == 0 {
		return TypeDetail{}, fmt.Errorf("%w: %s is zero-sized", ErrInvalidTypeDetail, t.String())
	}
	return TypeDetail{
		Variant:   TypeVariantFixedSize,
		TypeName:  t.String(),
		Size:      uint64(t.Size()),
		Alignment: uint64(t.Align()),
	}, nil
}

// SliceTypeDetailOf derives the descriptor for a []T payload whose length is
// chosen per loan. The element type carries the same constraints as
// TypeDetailOf.
func SliceTypeDetailOf[T any]() (TypeDetail, error) {
	d, err := TypeDetailOf[T]()
	if err != nil {
		return TypeDetail{}, err
	}
	d.Variant = TypeVariantDynamic
	return d, nil
}

func checkSelfContained(t reflect.Type, root string) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkSelfContained(t.Elem(), root)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkSelfContained(t.Field(i).Type, root); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s contains %s, which cannot live in shared memory",
			ErrInvalidTypeDetail, root, t.Kind())
	}
}

// checkPaddingFree rejects key types whose in-memory representation includes
// compiler padding. Keys are matched byte for byte across processes, and
// padding bytes are not guaranteed to be reproducible.
func checkPaddingFree(t reflect.Type, root string) error {
	if fieldBytes(t) != t.Size() {
		return fmt.Errorf("%w: key type %s has internal padding; use a packed layout",
			ErrInvalidTypeDetail, root)
	}
	return nil
}

func fieldBytes(t reflect.Type) uintptr {
	switch t.Kind() {
	case reflect.Struct:
		var n uintptr
		for i := 0; i < t.NumField(); i++ {
			n += fieldBytes(t.Field(i).Type)
		}
		return n
	case reflect.Array:
		return uintptr(t.Len()) * fieldBytes(t.Elem())
	default:
		return t.Size()
	}
}

// bytesOf exposes the raw representation of v. The caller keeps v alive for
// the lifetime of the returned slice.
func bytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// valueFrom copies a raw representation back into a T.
func valueFrom[T any](b []byte) T {
	var v T
	copy(bytesOf(&v), b)
	return v
}

// alignedBytes allocates n bytes backed by a word-aligned buffer, so payload
// types of any Go alignment can be overlaid onto it.
func alignedBytes(n uint64) []byte {
	if n == 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}
