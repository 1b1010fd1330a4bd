package tree

import (
	"math"
	"strconv"
	"strings"
)

const (
	// pushChars is the key alphabet in sort order.
	pushChars   = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"
	minPushChar = '-'
	maxPushChar = 'z'
	maxKeyLen   = 786
)

// Successor returns the smallest key that sorts after key.
func Successor(key string) string {
	if key == strconv.Itoa(math.MaxInt32) {
		return string(minPushChar)
	}
	if v, ok := parseIntKey(key); ok {
		return strconv.FormatInt(v+1, 10)
	}
	if len(key) < maxKeyLen {
		return key + string(minPushChar)
	}
	next := []byte(key)
	i := len(next) - 1
	for i >= 0 && next[i] == maxPushChar {
		i--
	}
	if i < 0 {
		return MaxName
	}
	next[i] = pushChars[strings.IndexByte(pushChars, next[i])+1]
	return string(next[:i+1])
}

// Predecessor returns the largest key that sorts before key.
func Predecessor(key string) string {
	if key == strconv.Itoa(math.MinInt32) {
		return MinName
	}
	if v, ok := parseIntKey(key); ok {
		return strconv.FormatInt(v-1, 10)
	}
	last := key[len(key)-1]
	if last == minPushChar {
		if len(key) == 1 {
			return strconv.Itoa(math.MaxInt32)
		}
		return key[:len(key)-1]
	}
	prev := key[:len(key)-1] + string(pushChars[strings.IndexByte(pushChars, last)-1])
	return prev + strings.Repeat(string(maxPushChar), maxKeyLen-len(prev))
}
