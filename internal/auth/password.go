// password.go

// Argon2id password hashing and verification, new-password policy, and the
// temporary password generator used by administrative resets.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	argonSaltLen = 16
	argonTime    = uint32(3)
	argonMemory  = uint32(64 * 1024)
	argonThreads = uint8(2)
	argonKeyLen  = uint32(32)
)

// Upper bounds accepted when decoding a stored digest. A tampered row must not be
// able to make a single verify allocate gigabytes or spin for minutes.
const (
	maxArgonMemory  = uint32(1024 * 1024)
	maxArgonTime    = uint32(16)
	maxArgonKeyLen  = 128
	minArgonSaltLen = 8
)

// PasswordHasher derives Argon2id digests with fixed cost parameters.
// The zero value uses the production parameters.
type PasswordHasher struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

func (h PasswordHasher) params() (memory, time uint32, threads uint8) {
	if h.Memory == 0 || h.Time == 0 || h.Threads == 0 {
		return argonMemory, argonTime, argonThreads
	}
	return h.Memory, h.Time, h.Threads
}

// Hash returns a PHC-formatted Argon2id digest of password.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func (h PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	memory, time, threads := h.params()
	key := argon2.IDKey([]byte(password), salt, time, memory, threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// fixedDigest is a well-formed digest with h's cost parameters and a constant salt.
// It verifies no password but costs as much to check as a real one.
func (h PasswordHasher) fixedDigest() string {
	memory, time, threads := h.params()
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, time, threads,
		"Vy6ZQgWMpAnUuPaAFGCv+g",
		"Xl6RCN/ILlBD20SUxnZ4KVbuOdjM3WzZzxwuc19/PqU",
	)
}

// Verify reports whether password matches digest. Parameters come from the digest
// itself, so hashes made under older parameters still verify. A malformed digest
// is simply a mismatch.
func (h PasswordHasher) Verify(digest, password string) bool {
	d, err := decodeDigest(digest)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

type argonDigest struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

var errMalformedDigest = errors.New("malformed password digest")

func decodeDigest(encoded string) (*argonDigest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, errMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errMalformedDigest
	}

	var d argonDigest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.threads); err != nil {
		return nil, errMalformedDigest
	}
	if d.memory == 0 || d.memory > maxArgonMemory || d.time == 0 || d.time > maxArgonTime || d.threads == 0 {
		return nil, errMalformedDigest
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < minArgonSaltLen {
		return nil, errMalformedDigest
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 || len(d.key) > maxArgonKeyLen {
		return nil, errMalformedDigest
	}
	return &d, nil
}

// PasswordPolicy defines complexity rules applied when a password is chosen.
//
//	MinLength is the minimum rune count; 0 skips minimum enforcement.
//	MaxLength is the maximum byte count (Argon2id input guard); 0 skips it.
//	RequireUppercase, RequireDigit, and RequireSpecial each gate a character-class check.
//
// The zero value is fully permissive.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// specialChars defines which characters satisfy the RequireSpecial rule.
const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Validate returns human-readable failures; an empty slice means the password is acceptable.
func (p PasswordPolicy) Validate(password string) []string {
	var failures []string

	if password == "" {
		return []string{"No password provided"}
	}
	if !utf8.ValidString(password) {
		return []string{"Password contains invalid characters"}
	}
	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		failures = append(failures, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		failures = append(failures, fmt.Sprintf("Password must be at most %d characters", p.MaxLength))
	}

	var seenUpper, seenDigit, seenSpecial bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return []string{"Password contains invalid characters"}
		}
		switch {
		case unicode.IsUpper(r):
			seenUpper = true
		case unicode.IsDigit(r):
			seenDigit = true
		case strings.ContainsRune(specialChars, r):
			seenSpecial = true
		}
	}

	if p.RequireUppercase && !seenUpper {
		failures = append(failures, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !seenDigit {
		failures = append(failures, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !seenSpecial {
		failures = append(failures, "Password must contain at least one special character")
	}

	return failures
}

// DefaultTempCharset is used when TempPasswordPolicy.Charset is empty.
const DefaultTempCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%^&*-_"

// TempPasswordPolicy shapes passwords generated for administrative resets.
type TempPasswordPolicy struct {
	Length  int
	Charset string
}

// charClasses splits charset into lower, upper, digit and other, dropping empty classes.
func charClasses(charset string) []string {
	var lower, upper, digit, other strings.Builder
	for _, r := range charset {
		switch {
		case unicode.IsLower(r):
			lower.WriteRune(r)
		case unicode.IsUpper(r):
			upper.WriteRune(r)
		case unicode.IsDigit(r):
			digit.WriteRune(r)
		default:
			other.WriteRune(r)
		}
	}
	var classes []string
	for _, b := range []*strings.Builder{&lower, &upper, &digit, &other} {
		if b.Len() > 0 {
			classes = append(classes, b.String())
		}
	}
	return classes
}

// Generate returns a random password drawn from Charset that contains at least one
// character of every class present in Charset and passes policy.
func (tp TempPasswordPolicy) Generate(policy PasswordPolicy) (string, error) {
	charset := tp.Charset
	if charset == "" {
		charset = DefaultTempCharset
	}
	alphabet := []rune(charset)
	classes := charClasses(charset)
	if tp.Length < len(classes) {
		return "", fmt.Errorf("temp password length %d cannot cover %d character classes", tp.Length, len(classes))
	}

	for range 64 {
		out := make([]rune, tp.Length)
		for i := range out {
			r, err := randomRune(alphabet)
			if err != nil {
				return "", err
			}
			out[i] = r
		}
		pw := string(out)
		if coversClasses(pw, classes) && len(policy.Validate(pw)) == 0 {
			return pw, nil
		}
	}
	return "", errors.New("temp password charset cannot satisfy password policy")
}

func coversClasses(pw string, classes []string) bool {
	for _, class := range classes {
		if !strings.ContainsAny(pw, class) {
			return false
		}
	}
	return true
}

func randomRune(alphabet []rune) (rune, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("generating temp password: %w", err)
	}
	return alphabet[n.Int64()], nil
}
