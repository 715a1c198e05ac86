package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConflict     = fmt.Errorf("conflict")
	ErrUnavailable  = fmt.Errorf("unavailable")
	ErrNotRunning   = fmt.Errorf("not running")
	ErrSpawnFailed  = fmt.Errorf("spawn failed")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad  = fmt.Errorf("failed to load configuration")
	ErrDecryption  = fmt.Errorf("decryption failed")
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")

	// Gateway errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrInvalidFrame      = fmt.Errorf("invalid message format")
	ErrUnknownFrame      = fmt.Errorf("unknown message type")
)

// Subsystem identifiers used with NewSubSystemError.
const (
	SubSystemProcess = "process"
	SubSystemAgent   = "agent"
	SubSystemTeam    = "team"
	SubSystemProject = "project"
	SubSystemTask    = "task"
	SubSystemGateway = "gateway"
	SubSystemStore   = "store"
	SubSystemWatcher = "watcher"
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Process.Spawn")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier; used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and API replies.
type ErrorCode string

const (
	CodeUnknown ErrorCode = "UNKNOWN"

	CodeConfigLoad   ErrorCode = "CONFIG_LOAD"
	CodeDecryption   ErrorCode = "DECRYPTION"
	CodeRateLimit    ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid  ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth  ErrorCode = "GATEWAY_AUTH"
	CodeInvalidFrame ErrorCode = "INVALID_FRAME"
	CodeUnknownFrame ErrorCode = "UNKNOWN_FRAME"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate     ErrorCode = "AGENT_DUPLICATE"
	CodeAgentNotRunning    ErrorCode = "AGENT_NOT_RUNNING"
	CodeTeamNotFound       ErrorCode = "TEAM_NOT_FOUND"
	CodeTeamConflict       ErrorCode = "TEAM_CONFLICT"
	CodeProjectNotFound    ErrorCode = "PROJECT_NOT_FOUND"
	CodeTaskNotFound       ErrorCode = "TASK_NOT_FOUND"
	CodeProcessSpawnFailed ErrorCode = "PROCESS_SPAWN_FAILED"
	CodeProcessUnavailable ErrorCode = "PROCESS_UNAVAILABLE"
	CodeProcessNotRunning  ErrorCode = "PROCESS_NOT_RUNNING"
	CodeProcessDuplicate   ErrorCode = "PROCESS_DUPLICATE"

	// Category codes, used when no subsystem-specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnavailable  ErrorCode = "UNAVAILABLE"
	CodeNotRunning   ErrorCode = "NOT_RUNNING"
	CodeSpawnFailed  ErrorCode = "SPAWN_FAILED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,
	ErrConflict:     CodeConflict,
	ErrUnavailable:  CodeUnavailable,
	ErrNotRunning:   CodeNotRunning,
	ErrSpawnFailed:  CodeSpawnFailed,

	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrGatewayAuthFailed: CodeGatewayAuth,
	ErrInvalidFrame:      CodeInvalidFrame,
	ErrUnknownFrame:      CodeUnknownFrame,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		SubSystemAgent:   CodeAgentNotFound,
		SubSystemTeam:    CodeTeamNotFound,
		SubSystemProject: CodeProjectNotFound,
		SubSystemTask:    CodeTaskNotFound,
	},
	ErrDuplicate: {
		SubSystemAgent:   CodeAgentDuplicate,
		SubSystemProcess: CodeProcessDuplicate,
	},
	ErrConflict: {
		SubSystemTeam: CodeTeamConflict,
	},
	ErrNotRunning: {
		SubSystemAgent:   CodeAgentNotRunning,
		SubSystemProcess: CodeProcessNotRunning,
	},
	ErrSpawnFailed: {
		SubSystemProcess: CodeProcessSpawnFailed,
	},
	ErrUnavailable: {
		SubSystemProcess: CodeProcessUnavailable,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
