package protocol

import "regexp"

var (
	passwordElementRe = regexp.MustCompile(`(?i)(<(?:\w+:)?(Password|PassKey)>)[^<]*(</(?:\w+:)?(?:Password|PassKey)>)`)
	panRe             = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
)

// Sanitize masks credentials and PAN identifiers in a request or
// response payload before it is logged. Masks Password/PassKey element
// contents and anything shaped like a PAN.
func Sanitize(payload string) string {
	masked := passwordElementRe.ReplaceAllString(payload, "${1}***${3}")
	return panRe.ReplaceAllString(masked, "*********")
}

// SanitizePipe masks the password and passkey slots of an encoded
// getPassword parameter string.
func SanitizePipe(p PasswordParams) string {
	masked := p
	masked.Password = "***"
	masked.PassKey = "***"
	return masked.Encode()
}
