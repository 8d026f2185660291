package broker

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars = "0123456789"
	// Symbols that survive copy-paste into most login forms.
	symbolChars = "!#$%&*+-_=?@^"

	DefaultPasswordLength = 24
	minPasswordLength     = 8
	maxPasswordLength     = 128
)

// GeneratePassword returns a random password of the given length drawn
// from all character classes, with at least one character from each.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	if length < minPasswordLength || length > maxPasswordLength {
		return "", fmt.Errorf("password length %d out of range [%d, %d]", length, minPasswordLength, maxPasswordLength)
	}

	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	alphabet := strings.Join(classes, "")

	buf := make([]byte, length)
	// One pick per class first so every class is represented, then fill
	// the rest from the full alphabet and shuffle.
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := len(classes); i < length; i++ {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := length - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func randomChar(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("reading randomness: %w", err)
	}
	return int(v.Int64()), nil
}
