package warren

import "fmt"

// Attribute is a single key/value property attached to a service. Keys may
// repeat; a key with several values behaves like a small set.
type Attribute struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// AttributeSet is the ordered collection of attributes a service was created
// with. It is immutable for the lifetime of the service.
type AttributeSet []Attribute

// Len returns the number of attributes in the set.
func (s AttributeSet) Len() int {
	return len(s)
}

// KeyValues returns every value defined for key, in definition order.
func (s AttributeSet) KeyValues(key string) []string {
	var out []string
	for _, a := range s {
		if a.Key == key {
			out = append(out, a.Value)
		}
	}
	return out
}

// Contains reports whether the exact key/value pair is present.
func (s AttributeSet) Contains(key, value string) bool {
	for _, a := range s {
		if a.Key == key && a.Value == value {
			return true
		}
	}
	return false
}

// HasKey reports whether key is defined at all.
func (s AttributeSet) HasKey(key string) bool {
	for _, a := range s {
		if a.Key == key {
			return true
		}
	}
	return false
}

// AttributeSpecifier collects the attributes a creator stamps onto a new
// service.
type AttributeSpecifier struct {
	attrs AttributeSet
}

// NewAttributeSpecifier returns an empty specifier.
func NewAttributeSpecifier() *AttributeSpecifier {
	return &AttributeSpecifier{}
}

// Define appends a key/value pair. Defining the same key twice keeps both
// values.
func (s *AttributeSpecifier) Define(key, value string) *AttributeSpecifier {
	s.attrs = append(s.attrs, Attribute{Key: key, Value: value})
	return s
}

// Attributes returns the collected set.
func (s *AttributeSpecifier) Attributes() AttributeSet {
	return s.attrs
}

// AttributeVerifier collects the attribute requirements an opener imposes on
// an existing service.
type AttributeVerifier struct {
	required     AttributeSet
	requiredKeys []string
}

// NewAttributeVerifier returns an empty verifier that accepts anything.
func NewAttributeVerifier() *AttributeVerifier {
	return &AttributeVerifier{}
}

// Require demands that the service defines the exact key/value pair.
func (v *AttributeVerifier) Require(key, value string) *AttributeVerifier {
	v.required = append(v.required, Attribute{Key: key, Value: value})
	return v
}

// RequireKey demands that the service defines key with at least one value.
func (v *AttributeVerifier) RequireKey(key string) *AttributeVerifier {
	v.requiredKeys = append(v.requiredKeys, key)
	return v
}

// Verify checks set against the collected requirements and names the first
// unmet one.
func (v *AttributeVerifier) Verify(set AttributeSet) error {
	if v == nil {
		return nil
	}
	for _, a := range v.required {
		if !set.Contains(a.Key, a.Value) {
			return fmt.Errorf("%w: attribute %q=%q is not defined", ErrIncompatibleAttributes, a.Key, a.Value)
		}
	}
	for _, k := range v.requiredKeys {
		if !set.HasKey(k) {
			return fmt.Errorf("%w: attribute key %q is not defined", ErrIncompatibleAttributes, k)
		}
	}
	return nil
}
