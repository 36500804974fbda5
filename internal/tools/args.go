// ABOUTME: Validated tool argument access helpers
// ABOUTME: Values originate from JSON decoding, so numbers arrive as float64

package tools

// Args holds a tool invocation's arguments after schema validation
// and default application.
type Args map[string]any

// Has reports whether the argument was provided (or defaulted).
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument, or "" when absent.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// OptString returns a pointer to a string argument, or nil when absent.
func (a Args) OptString(name string) *string {
	if v, ok := a[name].(string); ok {
		return &v
	}
	return nil
}

// Float returns a numeric argument, or 0 when absent.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// OptFloat returns a pointer to a numeric argument, or nil when absent.
func (a Args) OptFloat(name string) *float64 {
	switch v := a[name].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

// Int returns a numeric argument truncated to int, or 0 when absent.
func (a Args) Int(name string) int {
	return int(a.Float(name))
}
