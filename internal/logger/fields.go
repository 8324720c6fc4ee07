package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldBackend is the structured log field key for the scoring backend identity.
	FieldBackend = "backend"
	// FieldTransport is the structured log field key for the backend transport.
	FieldTransport = "transport"
	// FieldModel is the structured log field key for an LLM model identifier.
	FieldModel = "model"
	// FieldRequestID is the structured log field key for a match request id.
	FieldRequestID = "request_id"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// BackendFields returns the fields that describe a scoring backend.
// Empty values are ignored to keep log entries compact.
func BackendFields(backend, transport string) []zap.Field {
	return StringFields(
		StringField{Key: FieldBackend, Value: backend},
		StringField{Key: FieldTransport, Value: transport},
	)
}

// WithBackendFields attaches the backend fields to the provided logger.
func WithBackendFields(logger *zap.Logger, backend, transport string) *zap.Logger {
	return WithFields(logger, BackendFields(backend, transport)...)
}
