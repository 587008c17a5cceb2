package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_AppliesLevelAndFormat(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LogLevelDebug, Format: "json"})
	assert.Equal(t, "debug", logger.GetLevel().String())

	logger = NewLogger(DefaultLoggerConfig())
	assert.Equal(t, "info", logger.GetLevel().String())
}

func TestContextLogger_WithFieldAndWithFieldsDoNotMutateParent(t *testing.T) {
	base := NewContextLogger(Logger, map[string]interface{}{"service": "shardctl"})
	child := base.WithField("shard", "shard-0").WithFields(map[string]interface{}{"op": "ping"})

	assert.Equal(t, "shardctl", base.fields["service"])
	_, hasShard := base.fields["shard"]
	assert.False(t, hasShard)

	assert.Equal(t, "shard-0", child.fields["shard"])
	assert.Equal(t, "ping", child.fields["op"])
}

func TestContextLogger_WithErrorSetsErrorField(t *testing.T) {
	cl := NewContextLogger(Logger, nil).WithError(errors.New("boom"))
	assert.Equal(t, "boom", cl.fields["error"])
}

func TestContextLogger_WithContextExtractsKnownKeys(t *testing.T) {
	ctx := context.WithValue(context.Background(), "request_id", "req-1")
	cl := NewContextLogger(Logger, map[string]interface{}{"service": "shardctl"}).WithContext(ctx)
	assert.Equal(t, "req-1", cl.fields["request_id"])
	_, hasService := cl.fields["service"]
	assert.True(t, hasService)
}

func TestServiceLogger_IncludesModuleVersionNotEveVersion(t *testing.T) {
	cl := ServiceLogger(Logger, "shardctl", "1.2.3")
	assert.Equal(t, "shardctl", cl.fields["service"])
	assert.Equal(t, "1.2.3", cl.fields["version"])
	assert.Contains(t, cl.fields, "module_version")
	assert.NotContains(t, cl.fields, "eve_version")
}

func TestRequestLogger_SetsRequestFields(t *testing.T) {
	cl := RequestLogger("shardctl", "GET", "/healthz", "req-42")
	assert.Equal(t, "GET", cl.fields["method"])
	assert.Equal(t, "/healthz", cl.fields["path"])
	assert.Equal(t, "req-42", cl.fields["request_id"])
}

func TestLogOperation_ReturnsUnderlyingError(t *testing.T) {
	cl := NewContextLogger(Logger, nil)
	boom := errors.New("boom")
	err := LogOperation(cl, "ping", func() error { return boom })
	assert.Equal(t, boom, err)

	err = LogOperation(cl, "ping", func() error { return nil })
	require.NoError(t, err)
}

func TestLogPanic_RecoversAndLogsWithoutPropagating(t *testing.T) {
	cl := NewContextLogger(Logger, nil)

	func() {
		defer LogPanic(cl)
		panic("boom")
	}()
}

func TestHTTPFields_IncludesStatusAndDuration(t *testing.T) {
	fields := HTTPFields("GET", "/healthz", 200, 5*time.Millisecond)
	assert.Equal(t, "GET", fields["http_method"])
	assert.Equal(t, 200, fields["http_status_code"])
	assert.Equal(t, int64(5), fields["duration_ms"])
}

func TestDatabaseFields_IncludesOperationAndTable(t *testing.T) {
	fields := DatabaseFields("select", "companies", 3, 10*time.Millisecond)
	assert.Equal(t, "select", fields["db_operation"])
	assert.Equal(t, "companies", fields["db_table"])
	assert.Equal(t, int64(3), fields["rows_affected"])
}

func TestErrorFields_IncludesErrorTypeAndContext(t *testing.T) {
	fields := ErrorFields(errors.New("boom"), "begin tx")
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "begin tx", fields["context"])
	assert.Equal(t, "*errors.errorString", fields["error_type"])
}
