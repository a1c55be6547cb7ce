// Package names translates row keys between the snake_case naming used on
// the wire and in the local store, and the camelCase naming used by
// application-facing payloads.
package names

import "strings"

// ToCamel converts a snake_case identifier to camelCase.
func ToCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	upper := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteByte(c)
	}
	return b.String()
}

// ToSnake converts a camelCase identifier to snake_case.
func ToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			b.WriteByte('_')
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// MapToCamel returns a copy of row with every key converted to camelCase.
// Values are not touched.
func MapToCamel(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[ToCamel(k)] = v
	}
	return out
}

// MapToSnake returns a copy of row with every key converted to snake_case.
func MapToSnake(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[ToSnake(k)] = v
	}
	return out
}
