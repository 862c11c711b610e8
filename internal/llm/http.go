package llm

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// leveledLogrus adapts logrus to retryablehttp.LeveledLogger
type leveledLogrus struct {
	inner logrus.FieldLogger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Info(msg)
}

func (l leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}

// RobustHTTPClient returns a stdlib *http.Client that retries connection
// errors, 5xx responses (except 501) and 429s with backoff. Intermediate
// failures are logged at WARN.
func RobustHTTPClient(logger logrus.FieldLogger, timeout time.Duration) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	if logger != nil {
		retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{inner: logger.WithField("component", "llm-http")})
	} else {
		retryClient.Logger = nil
	}
	client := retryClient.StandardClient()
	client.Timeout = timeout
	return client
}
