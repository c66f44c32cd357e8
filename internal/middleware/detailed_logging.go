package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"principales/internal/httputil"
	"principales/internal/privacy"
	"principales/internal/service"
	"principales/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	LogResponseBody   bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SensitiveParams   []string
	SkipEndpoints     []string
}

// DefaultDetailedLoggingConfig logs headers only. Bodies stay off since chat
// text and report notes are personal data.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders:  []string{"authorization", "cookie", "set-cookie", "x-api-token"},
		SensitiveParams:   []string{"token"},
		SkipEndpoints:     []string{"/metrics", "/health", "/uploads/", "/api/telegram/stream"},
	}
}

// DetailedLoggingMiddleware logs request and response detail at debug level.
// It is only installed when the log level is debug.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipEndpoints {
				if strings.HasPrefix(r.URL.Path, skip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			logRequestDetails(logger, r, config)

			if !config.LogResponseBody {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{ResponseWriter: w, body: bytes.NewBuffer(nil), statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, r, capture, config)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
		service.LogFieldTraceID:   tracing.GetTraceID(r.Context()),
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       redactQuery(r.URL, config.SensitiveParams),
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
		"protocol":                r.Proto,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string, len(r.Header))
		for name, values := range r.Header {
			if isSensitive(name, config.SensitiveHeaders) {
				headers[name] = maskedValue
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	if config.LogRequestBody && isTextBody(r.Header.Get("Content-Type")) &&
		r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = privacy.MaskSensitiveFields(map[string]interface{}{"body": string(body)})["body"]
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, r *http.Request, capture *responseCaptureWrapper, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}
	if size := capture.body.Len(); size > config.MaxBodySize {
		fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", size)
	} else if size > 0 {
		fields["response_body"] = capture.body.String()
	}
	logger.WithFields(fields).Debug("Detailed response logging")
}

// redactQuery masks query parameters such as the stream auth token
func redactQuery(u *url.URL, params []string) string {
	if u.RawQuery == "" {
		return u.Path
	}
	q := u.Query()
	for key := range q {
		if isSensitive(key, params) {
			q.Set(key, maskedValue)
		}
	}
	return u.Path + "?" + q.Encode()
}

type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if err == nil {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCaptureWrapper) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func isSensitive(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// isTextBody skips multipart uploads and binary payloads
func isTextBody(contentType string) bool {
	for _, textType := range []string{"application/json", "text/", "application/x-www-form-urlencoded"} {
		if strings.Contains(contentType, textType) {
			return true
		}
	}
	return false
}
