package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for API key hashing.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

var defaultParams = argonParams{memory: argonMemory, time: argonTime, threads: argonThreads}

func (p argonParams) derive(apiKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(apiKey), salt, p.time, p.memory, p.threads, argonKeyLen)
}

// HashAPIKey hashes an API key with Argon2id and encodes it in the PHC
// string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
//
// Cost parameters travel with the hash, so stored keys keep verifying if the
// defaults change later.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := defaultParams.derive(apiKey, salt)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, defaultParams.memory, defaultParams.time, defaultParams.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyAPIKey reports whether apiKey matches an encoded hash, deriving with
// the cost parameters recorded in the hash itself.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	params, salt, want, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	got := params.derive(apiKey, salt)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns one Argon2id derivation with the default cost parameters.
// Call it on auth failure paths where no stored hash was checked, so that
// response timing does not reveal whether a client_id exists.
func DummyVerify() {
	defaultParams.derive("dummy", make([]byte, saltLen))
}

func parseHash(encoded string) (argonParams, []byte, []byte, error) {
	fields := strings.Split(encoded, "$")
	// The leading "$" yields an empty first field.
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return argonParams{}, nil, nil, fmt.Errorf("auth: malformed key hash")
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonParams{}, nil, nil, fmt.Errorf("auth: unsupported argon2 version %q", fields[2])
	}
	var p argonParams
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: malformed cost parameters %q", fields[3])
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: decode hash: %w", err)
	}
	return p, salt, hash, nil
}
