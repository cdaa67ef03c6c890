package sender

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// TokenEnv holds the API token used when none is configured explicitly.
	TokenEnv = "APPTUIT_API_TOKEN"
	// TagsEnv holds global tags in the form "key1:value1,key2:value2".
	TagsEnv = "APPTUIT_TAGS"

	MaxTags = 25
)

// LookupEnv has the signature of os.LookupEnv.
type LookupEnv func(key string) (string, bool)

var (
	validChars             = regexp.MustCompile(`^[\p{L}\p{N}\-_./]+$`)
	invalidApptuitChars    = regexp.MustCompile(`[^\p{L}\p{N}\-_./]+`)
	invalidPrometheusChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
)

// ValidChars reports whether s only contains unicode letters, digits, '-', '_', '.' and '/'.
func ValidChars(s string) bool {
	return validChars.MatchString(s)
}

// ValidateTags checks that tag keys and values are non-empty and only use valid characters.
func ValidateTags(tags map[string]string) error {
	for k, v := range tags {
		if !ValidChars(k) {
			return fmt.Errorf("%w: tag key %q contains an invalid character, allowed characters "+
				"are unicode letters, digits, -, _, . and /", ErrInvalidTags, k)
		}
		if !ValidChars(v) {
			return fmt.Errorf("%w: tag value %q of %q contains an invalid character", ErrInvalidTags, v, k)
		}
	}
	return nil
}

// ParseTags parses the "key1:value1, key2:value2" format used by TagsEnv.
func ParseTags(s string) (map[string]string, error) {
	tags := map[string]string{}
	s = strings.Trim(s, ", ")
	if s == "" {
		return tags, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.Split(pair, ":")
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: failed to parse tag key-value pair %q", ErrInvalidTags, pair)
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			return nil, fmt.Errorf("%w: empty key or value in tag pair %q", ErrInvalidTags, pair)
		}
		tags[k] = v
	}
	if err := ValidateTags(tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// TagsFromEnv parses TagsEnv. An unset variable yields no tags and no error.
func TagsFromEnv(lookup LookupEnv) (map[string]string, error) {
	s, ok := lookup(TagsEnv)
	if !ok {
		return map[string]string{}, nil
	}
	tags, err := ParseTags(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", TagsEnv, err)
	}
	return tags, nil
}

func TokenFromEnv(lookup LookupEnv) (string, bool) {
	token, ok := lookup(TokenEnv)
	return token, ok && token != ""
}

// MergeTags returns the union of base and override where override wins on
// overlapping keys. The result is nil when both are empty.
func MergeTags(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// SanitizeApptuit replaces each run of invalid characters with a single '_'.
func SanitizeApptuit(name string) string {
	return invalidApptuitChars.ReplaceAllString(name, "_")
}

// SanitizePrometheus restricts name to [a-zA-Z0-9_] and prefixes a leading digit with '_'.
func SanitizePrometheus(name string) string {
	name = invalidPrometheusChars.ReplaceAllString(name, "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}
