package vigil

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32
)

// sanitizedMaxLength caps outgoing text content well under the Discord
// message length limit, leaving room for prefixes and mention text.
const sanitizedMaxLength = 1500

// sanitizeText strips control characters from the given string, breaks up
// any `@` so user-supplied response text can't smuggle mass mentions, and
// truncates the result to sanitizedMaxLength runes.
func sanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
		if r == '@' {
			b.WriteRune('\u200b')
		}
	}
	out := b.String()
	runes := []rune(out)
	if len(runes) > sanitizedMaxLength {
		out = string(runes[:sanitizedMaxLength-3]) + "..."
	}
	return out
}

// isSafeRelativePath reports whether the given path is relative and stays
// within its root (no traversal components).
func isSafeRelativePath(path string) bool {
	if path == "" {
		return false
	}
	if filepath.IsAbs(path) {
		return false
	}
	if filepath.VolumeName(path) != "" {
		return false
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// normalizeIDList converts a decoded JSON value into a list of Discord
// snowflake ID strings. Accepts strings, JSON numbers and integers; anything
// else is dropped.
func normalizeIDList(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed != "" && isDigits(trimmed) {
				ids = append(ids, trimmed)
			}
		case float64:
			if v > 0 {
				ids = append(ids, strconv.FormatFloat(v, 'f', -1, 64))
			}
		case int:
			if v > 0 {
				ids = append(ids, strconv.Itoa(v))
			}
		case int64:
			if v > 0 {
				ids = append(ids, strconv.FormatInt(v, 10))
			}
		}
	}
	return ids
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

// hashPassword hashes the given password/token with argon2id.
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encodedHash := fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory,
		argon2Time,
		argon2Threads,
		b64Salt,
		b64Hash,
	)

	return encodedHash, nil
}

// verifyPassword checks if the provided password matches the stored hash
func verifyPassword(storedHash, password string) (bool, error) {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	var memory, argonTime, threads int
	_, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&memory,
		&argonTime,
		&threads,
	)
	if err != nil {
		return false, errors.New("invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("invalid hash format")
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("invalid hash format")
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		uint32(argonTime),
		uint32(memory),
		uint8(threads),
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}
