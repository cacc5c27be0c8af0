package modules

const (
	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeNotFound      = -32004
	codeInvalidParams = -32602

	codeSolvencyFailure  = -32030
	codeProtocolPaused   = -32031
	codeTransientFailure = -32032
	codeEngineBusy       = -32033
	codeRateLimited      = -32020
)

// ModuleError carries the HTTP status and JSON-RPC error body a failed
// module call should produce. Data holds the stable short code clients
// can branch on without parsing the message.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
