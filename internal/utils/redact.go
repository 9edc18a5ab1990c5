package utils

import "regexp"

var (
	urlCredentials = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^\s/@]+@`)
	kvCredentials  = regexp.MustCompile(`(?i)\b(password|passwd|pwd|user|sslpassword|sslkey)=('[^']*'|\S+)`)
)

// Redact strips credentials from connection strings embedded in s, so raw driver
// errors can be shown to clients.
func Redact(s string) string {
	s = urlCredentials.ReplaceAllString(s, "${1}***@")
	return kvCredentials.ReplaceAllString(s, "${1}=***")
}

// RedactError returns the redacted text of err, or "" for nil
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
