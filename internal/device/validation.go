package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength = 100
	maxSlugLength = 50

	// A BMC reports a few hundred sensors at most.
	maxStateKeys      = 500
	maxStringValueLen = 1024
	maxNestingDepth   = 4
)

// ValidateDevice checks the fields the registry relies on.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidDevice)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Port)
	}
	if d.HealthStatus != "" {
		if err := ValidateHealthStatus(d.HealthStatus); err != nil {
			return err
		}
	}
	return ValidateState(d.State)
}

// ValidateName rejects empty and overlong names.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateHealthStatus rejects values outside AllHealthStatuses.
func ValidateHealthStatus(status HealthStatus) error {
	for _, s := range AllHealthStatuses() {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidHealth, status)
}

// ValidateState bounds the size and nesting of a state snapshot before it
// is persisted.
func ValidateState(s State) error {
	if len(s) > maxStateKeys {
		return fmt.Errorf("%w: %d keys exceeds %d", ErrInvalidState, len(s), maxStateKeys)
	}
	return validateValue(map[string]any(s), 0)
}

func validateValue(v any, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: exceeds maximum nesting depth", ErrInvalidState)
	}
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: string value too long", ErrInvalidState)
		}
	case map[string]string:
		if len(val) > maxStateKeys {
			return fmt.Errorf("%w: nested map too large", ErrInvalidState)
		}
		for _, s := range val {
			if len(s) > maxStringValueLen {
				return fmt.Errorf("%w: string value too long", ErrInvalidState)
			}
		}
	case map[string]any:
		if len(val) > maxStateKeys {
			return fmt.Errorf("%w: nested map too large", ErrInvalidState)
		}
		for k, elem := range val {
			if len(k) > maxStringValueLen {
				return fmt.Errorf("%w: key too long", ErrInvalidState)
			}
			if err := validateValue(elem, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, elem := range val {
			if err := validateValue(elem, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenerateSlug turns an identity or display name into a URL-safe slug:
// "Supermicro_rack3" becomes "supermicro-rack3".
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.NewReplacer(" ", "-", "_", "-", ":", "-", ".", "-").Replace(slug)

	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug = strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}
