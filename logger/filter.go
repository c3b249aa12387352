package logger

import (
	"net/url"
	"strings"
)

const (
	// DefaultMaskValue replaces sensitive values in log output
	DefaultMaskValue = "***"

	// DefaultMaxDepth bounds recursion into nested maps and slices
	DefaultMaxDepth = 8
)

// FilterConfig defines which field names are treated as sensitive
type FilterConfig struct {
	// SensitiveFields are matched case-insensitively as substrings of the key
	SensitiveFields []string
	// MaskValue replaces sensitive data (default: "***")
	MaskValue string
}

// DefaultFilterConfig covers the credential material that flows through a
// ClientLogin session: passwords, secrets, auth tokens and headers.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "pwd",
			"secret", "api_key", "apikey",
			"token", "auth", "authorization",
			"credential", "cookie",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks values whose key looks sensitive
type SensitiveDataFilter struct {
	config *FilterConfig
}

// NewSensitiveDataFilter creates a filter; a nil config selects the defaults
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if config.MaskValue == "" {
		config.MaskValue = DefaultMaskValue
	}
	return &SensitiveDataFilter{config: config}
}

// FilterString masks value when key is sensitive. URLs keep their structure
// and only lose the user-info password.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if f.isSensitiveField(key) {
		return f.maskString(value)
	}
	if f.isURL(value) {
		return f.maskURL(value)
	}
	return value
}

// FilterValue masks sensitive entries of maps and slices, recursing up to
// DefaultMaxDepth levels.
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	return f.filterValue(key, value, DefaultMaxDepth)
}

// FilterFields filters a map of fields for sensitive data
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	filtered := make(map[string]any, len(fields))
	for key, value := range fields {
		filtered[key] = f.FilterValue(key, value)
	}
	return filtered
}

func (f *SensitiveDataFilter) filterValue(key string, value any, depth int) any {
	if f.isSensitiveField(key) {
		if s, ok := value.(string); ok {
			return f.maskString(s)
		}
		return f.config.MaskValue
	}
	if depth <= 0 || value == nil {
		return value
	}

	switch v := value.(type) {
	case string:
		if f.isURL(v) {
			return f.maskURL(v)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = f.filterValue(k, inner, depth-1)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, inner := range v {
			out[k] = f.FilterString(k, inner)
		}
		return out
	case map[string][]string:
		// http.Header shaped values
		out := make(map[string][]string, len(v))
		for k, inner := range v {
			vals := make([]string, len(inner))
			for i, s := range inner {
				vals[i] = f.FilterString(k, s)
			}
			out[k] = vals
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = f.filterValue(key, inner, depth-1)
		}
		return out
	default:
		return value
	}
}

func (f *SensitiveDataFilter) isSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, sensitive := range f.config.SensitiveFields {
		if strings.Contains(lower, strings.ToLower(sensitive)) {
			return true
		}
	}
	return false
}

func (f *SensitiveDataFilter) maskString(value string) string {
	if value == "" {
		return value
	}
	if f.isURL(value) {
		return f.maskURL(value)
	}
	return f.config.MaskValue
}

func (f *SensitiveDataFilter) isURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// maskURL hides the user-info password and any sensitive query parameters
func (f *SensitiveDataFilter) maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return f.config.MaskValue
	}

	changed := false
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), f.config.MaskValue)
			changed = true
		}
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for k := range q {
			if f.isSensitiveField(k) {
				q.Set(k, f.config.MaskValue)
				changed = true
			}
		}
		if changed {
			parsed.RawQuery = q.Encode()
		}
	}
	if !changed {
		return raw
	}
	// url.String escapes the mask; undo it so the output stays readable
	return strings.ReplaceAll(parsed.String(), url.QueryEscape(f.config.MaskValue), f.config.MaskValue)
}
