package protocol

import "strings"

// Result is the normalized outcome of a gateway operation, decoded from
// the raw pipe-delimited result string. Ephemeral, never persisted.
type Result struct {
	Success bool
	Code    string
	Message string
	Data    []string
}

// successCode is the gateway's documented "accepted" sentinel. Every
// other status code is an error sentinel.
const successCode = "100"

// IsSuccessCode reports whether a gateway status code represents the
// accepted sentinel. Centralized so the mapping is testable without any
// XML parsing involved.
func IsSuccessCode(code string) bool {
	return code == successCode
}

// ParsePipeResult splits a raw pipe-delimited result string into a
// normalized Result. Field layout: status code, diagnostic message,
// then operation-specific data fields. The first data field of a
// successful order-entry response carries the gateway-assigned order
// number.
func ParsePipeResult(raw string) Result {
	fields := strings.Split(raw, Delimiter)

	result := Result{
		Code: strings.TrimSpace(fields[0]),
	}
	if len(fields) > 1 {
		result.Message = strings.TrimSpace(fields[1])
	}
	if len(fields) > 2 {
		data := make([]string, 0, len(fields)-2)
		for _, f := range fields[2:] {
			data = append(data, strings.TrimSpace(f))
		}
		result.Data = data
	}

	result.Success = IsSuccessCode(result.Code)
	return result
}

// OrderNumber returns the gateway-assigned order number, or empty when
// the result is not a success or carries no data.
func (r Result) OrderNumber() string {
	if !r.Success || len(r.Data) == 0 {
		return ""
	}
	return r.Data[0]
}
