package domain

import (
	"fmt"
	"strconv"
)

const (
	// MaxOrderIndex is the largest index that fits a six digit order key.
	MaxOrderIndex = 999999
	orderKeyWidth = 6
)

// OrderKey renders index as a zero-padded, lexicographically sortable key.
func OrderKey(index int) (string, error) {
	if index < 0 || index > MaxOrderIndex {
		return "", fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return fmt.Sprintf("%0*d", orderKeyWidth, index), nil
}

// ParseOrderKey is the inverse of OrderKey.
func ParseOrderKey(key string) (int, error) {
	if len(key) != orderKeyWidth {
		return 0, fmt.Errorf("%w: key %q", ErrOutOfRange, key)
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: key %q", ErrOutOfRange, key)
		}
	}
	index, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q", ErrOutOfRange, key)
	}
	return index, nil
}
