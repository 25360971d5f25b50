// Package phone centralizes phone-number canonicalization so every
// ingestion point (gateway callback, manual entry, order records)
// compares one representation.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

var ErrUnrecognized = errors.New("phone: format cannot be normalized")

// corruptionPattern is the signature of a known data-corruption bug
// upstream: a value that is exactly 64 hex characters is a digest that
// replaced the real number. Such values must never be compared as if
// they were phone numbers.
var corruptionPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Config holds the normalization rules. The observed transformations
// are Kenyan; other markets adjust the country code and the local
// prefixes that replace a leading zero.
type Config struct {
	// CountryCode without a leading plus, e.g. "254".
	CountryCode string
	// LocalPrefixes are the leading digits of a subscriber number in
	// national format after the zero, e.g. "7" and "1".
	LocalPrefixes []string
	// SubscriberDigits is the length of the subscriber part, e.g. 9.
	SubscriberDigits int
}

func DefaultConfig() Config {
	return Config{
		CountryCode:      "254",
		LocalPrefixes:    []string{"7", "1"},
		SubscriberDigits: 9,
	}
}

// Normalizer applies one canonical international form, digits only
// with the country code and no plus sign (the form the gateway
// accepts, e.g. 254712345678).
type Normalizer struct {
	cfg Config
}

func NewNormalizer(cfg Config) *Normalizer {
	if cfg.CountryCode == "" {
		cfg = DefaultConfig()
	}
	return &Normalizer{cfg: cfg}
}

// Normalize canonicalizes the given value or fails with
// ErrUnrecognized. Corrupted values are rejected outright.
func (n *Normalizer) Normalize(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	v = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(v)
	v = strings.TrimPrefix(v, "+")

	if v == "" || IsCorrupted(v) || !digitsOnly.MatchString(v) {
		return "", ErrUnrecognized
	}

	cc := n.cfg.CountryCode
	sub := n.cfg.SubscriberDigits

	switch {
	case strings.HasPrefix(v, cc) && len(v) == len(cc)+sub:
		return v, nil
	case strings.HasPrefix(v, "0") && len(v) == 1+sub:
		rest := v[1:]
		for _, p := range n.cfg.LocalPrefixes {
			if strings.HasPrefix(rest, p) {
				return cc + rest, nil
			}
		}
	case len(v) == sub:
		for _, p := range n.cfg.LocalPrefixes {
			if strings.HasPrefix(v, p) {
				return cc + v, nil
			}
		}
	}

	return "", ErrUnrecognized
}

// IsCorrupted reports whether the value carries the known corruption
// signature and must be flagged as a data error instead of matched.
func IsCorrupted(v string) bool {
	return corruptionPattern.MatchString(strings.TrimSpace(v))
}
