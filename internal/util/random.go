// Package util provides utility functions for the AvatarStudy application.
package util

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	base36Chars     = "0123456789abcdefghijklmnopqrstuvwxyz"
	completionChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// CompletionCodeLength is the length of the code shown on the final screen.
	CompletionCodeLength = 6
	// userIDSuffixLength is the number of random base36 characters after the timestamp.
	userIDSuffixLength = 5
)

// GenerateRandomString returns length characters drawn uniformly from charset.
func GenerateRandomString(length int, charset string) string {
	if length <= 0 || charset == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(charset[rand.IntN(len(charset))])
	}
	return builder.String()
}

// GenerateUserID returns a participant ID: the base36 millisecond timestamp
// followed by five random base36 characters.
func GenerateUserID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + GenerateRandomString(userIDSuffixLength, base36Chars)
}

// GenerateCompletionCode returns a six-character upper-case alphanumeric code.
func GenerateCompletionCode() string {
	return GenerateRandomString(CompletionCodeLength, completionChars)
}
