// Package registry owns the type descriptors used by coercion, protection
// and the mirror. Descriptors are declared in YAML or CUE, validated as a
// whole and frozen by Publish; a published registry is read-only and safe
// to share between goroutines.
package registry
