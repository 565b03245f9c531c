package nanoid

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Character sets
const (
	Number        = "0123456789"
	Lowercase     = "abcdefghijklmnopqrstuvwxyz"
	Uppercase     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	NumLowerUpper = Number + Lowercase + Uppercase
)

const (
	primaryKeyAlphabet = NumLowerUpper
	primaryKeySize     = 16
)

const defaultSize = 16

func getSize(l ...int) int {
	size := defaultSize
	if len(l) > 0 {
		size = l[0]
	}
	return size
}

// Must generates an optional length nanoid with the default alphabet
func Must(l ...int) string {
	return gonanoid.Must(getSize(l...))
}

// String generates an optional length alphanumeric nanoid
func String(l ...int) string {
	return gonanoid.MustGenerate(NumLowerUpper, getSize(l...))
}

// Lower generates an optional length lowercase nanoid
func Lower(l ...int) string {
	return gonanoid.MustGenerate(Lowercase, getSize(l...))
}

// PrimaryKey generates a primary key for persisted records
func PrimaryKey() string {
	return gonanoid.MustGenerate(primaryKeyAlphabet, primaryKeySize)
}
