package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/dialhub/dialhub/internal/api/middleware"
)

// maxIDLen bounds identifier fields (call, contact and campaign IDs).
const maxIDLen = 64

// maxEndpointLen bounds dial endpoint strings.
const maxEndpointLen = 256

// phoneRe validates dialable numbers: optional +, 4-20 digits.
var phoneRe = regexp.MustCompile(`^\+?\d{4,20}$`)

// validateID checks a required identifier field. Returns an error
// message if invalid, empty string if OK.
func validateID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxIDLen {
		return field + " exceeds maximum length"
	}
	if strings.ContainsAny(value, " \t\n\r") {
		return field + " contains invalid characters"
	}
	return ""
}

// validatePhone checks that a number is dialable.
func validatePhone(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " is not a dialable number"
	}
	return ""
}

// validateEndpoint checks a dial endpoint like PJSIP/agent-7.
func validateEndpoint(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxEndpointLen {
		return field + " exceeds maximum length"
	}
	if strings.ContainsAny(value, " \t\n\r") {
		return field + " contains invalid characters"
	}
	if !strings.Contains(value, "/") {
		return field + " must be technology/resource"
	}
	return ""
}

// middlewareAgentID returns the authenticated agent ID for the request,
// or "" when auth is disabled.
func middlewareAgentID(r *http.Request) string {
	return middleware.AgentIDFromContext(r.Context())
}
