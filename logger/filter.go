package logger

import (
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output.
const DefaultMaskValue = "***"

// maxFilterDepth bounds recursion into nested maps.
const maxFilterDepth = 8

// FilterConfig defines which field names and URL query parameters are masked.
type FilterConfig struct {
	// SensitiveFields contains field names whose values are masked.
	SensitiveFields []string
	// SensitiveQueryParams contains URL query parameter names whose values are masked.
	SensitiveQueryParams []string
	// MaskValue replaces masked content (default: "***").
	MaskValue string
}

// DefaultFilterConfig returns the field and query parameter names masked by default.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "secret",
			"token", "api_key", "apikey",
			"authorization", "credential",
			"broker_url", "brokerurl",
		},
		SensitiveQueryParams: []string{
			"token", "access_token", "key", "api_key", "apikey", "secret", "password", "sig",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks sensitive values before they reach the log writer.
// URLs logged under any key keep their structure but lose user-info passwords and
// sensitive query parameter values.
type SensitiveDataFilter struct {
	config *FilterConfig
}

// NewSensitiveDataFilter creates a new filter with the given configuration.
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if config.MaskValue == "" {
		config.MaskValue = DefaultMaskValue
	}
	return &SensitiveDataFilter{config: config}
}

// FilterString filters a single string field.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if value == "" {
		return value
	}
	if f.isSensitiveField(key) {
		if isURL(value) {
			return f.MaskURL(value)
		}
		return f.config.MaskValue
	}
	if isURL(value) {
		return f.MaskURL(value)
	}
	return value
}

// FilterValue filters an arbitrary field value.
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	return f.filterValue(key, value, maxFilterDepth)
}

// FilterFields filters a map of fields for sensitive data.
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	filtered := make(map[string]any, len(fields))
	for key, value := range fields {
		filtered[key] = f.FilterValue(key, value)
	}
	return filtered
}

func (f *SensitiveDataFilter) filterValue(key string, value any, depth int) any {
	if value == nil || depth <= 0 {
		return value
	}
	switch v := value.(type) {
	case string:
		return f.FilterString(key, v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = f.FilterString(key, s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = f.filterValue(k, inner, depth-1)
		}
		return out
	}
	if f.isSensitiveField(key) {
		return f.config.MaskValue
	}
	return value
}

// MaskURL masks the user-info password and sensitive query parameters of a URL.
// Unparseable input is masked completely.
func (f *SensitiveDataFilter) MaskURL(raw string) string {
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
		query := parsed.Query()
		for name := range query {
			if f.isSensitiveQueryParam(name) {
				query.Set(name, f.config.MaskValue)
				changed = true
			}
		}
		if changed {
			parsed.RawQuery = query.Encode()
		}
	}

	if !changed {
		return raw
	}
	// url.URL.String escapes the mask inside user info; undo that for readability.
	return strings.ReplaceAll(parsed.String(), url.QueryEscape(f.config.MaskValue), f.config.MaskValue)
}

func (f *SensitiveDataFilter) isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range f.config.SensitiveFields {
		if strings.Contains(lower, strings.ToLower(field)) {
			return true
		}
	}
	return false
}

func (f *SensitiveDataFilter) isSensitiveQueryParam(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range f.config.SensitiveQueryParams {
		if lower == strings.ToLower(p) {
			return true
		}
	}
	return false
}

func isURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "amqp://") ||
		strings.HasPrefix(lower, "amqps://")
}
