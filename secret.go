package polyllm

import "log/slog"

// Secret wraps a credential so it never ends up in logs or serialized output.
// Use Expose to read the value when building authentication headers.
type Secret struct {
	value string
}

// NewSecret wraps value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// String implements fmt.Stringer with a redacted placeholder.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer with a redacted placeholder.
func (s Secret) GoString() string {
	return "polyllm.Secret{[REDACTED]}"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// MarshalJSON never emits the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalText never emits the value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// Expose returns the wrapped value.
func (s Secret) Expose() string {
	return s.value
}

// IsEmpty reports whether no credential is set.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}
