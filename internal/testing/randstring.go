package testing

import (
	"math/rand"
	"strings"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates a random string of n latin letters, used for unique usernames and listing ids
func RandString(n int) string {
	var out strings.Builder
	out.Grow(n)
	for i := 0; i < n; i++ {
		out.WriteByte(letters[rand.Intn(len(letters))])
	}
	return out.String()
}
