package webgpu

import (
	"fmt"
	"strings"
)

// BuildShaderKey serializes every parameter that affects a generated
// kernel's text into a cache key. The family prefix separates kernel
// families that would otherwise share field layouts; fields are joined in
// call order with a separator, so two calls with the same fields always
// produce the same key and calls differing in any one field never collide.
//
// Callers must pass a fixed number of fields per family: the key is only
// injective across requests of the same family and arity.
func BuildShaderKey(family string, fields ...any) string {
	var sb strings.Builder
	sb.WriteString(family)
	for _, field := range fields {
		sb.WriteByte('|')
		fmt.Fprintf(&sb, "%v", field)
	}
	return sb.String()
}
