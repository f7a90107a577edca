package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/pkg/querycounter"
	"github.com/tomevault/tomevault/internal/service"
)

const (
	HeaderRequestID  = "X-Request-ID"
	HeaderCacheHit   = "X-Cache-Hit"
	ContextRequestID = "request_id"
	ContextStartTime = "request_start"
)

// bodyLogWriter wraps the ResponseWriter to capture the response body
// for the log record.
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyLogWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// RequestLogger records every request as exactly one log record after
// the handler chain completes. It never changes the handler outcome:
// handler errors still render, panics are recorded and re-raised for
// the recovery layer above.
func RequestLogger(recorder *service.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := service.NewRequestID(c.GetHeader(HeaderRequestID))
		c.Header(HeaderRequestID, requestID)
		c.Set(ContextRequestID, requestID)
		c.Set(ContextStartTime, start)
		c.Request = c.Request.WithContext(querycounter.Attach(c.Request.Context()))

		// Read the body and put it back so binding still works.
		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		record := func(handlerErr error, stack []string) {
			status := c.Writer.Status()
			if handlerErr != nil && !c.Writer.Written() {
				// Failure before any write: the recovery layer above will
				// answer 500, record it as such.
				status = http.StatusInternalServerError
			}
			in := &service.RecordInput{
				RequestID:      requestID,
				Method:         c.Request.Method,
				URL:            fullURL(c.Request),
				Endpoint:       endpointOf(c),
				ClientIP:       clientIP(c),
				UserAgent:      c.Request.UserAgent(),
				UserID:         contextUserID(c),
				UserType:       c.GetString(ContextUserType),
				StatusCode:     status,
				Elapsed:        time.Since(start),
				RequestHeaders: c.Request.Header,
				RequestBody:    reqBody,
				ResponseBody:   blw.body.Bytes(),
				CacheHit:       c.GetHeader(HeaderCacheHit) == "true",
				Referer:        c.Request.Referer(),
				Locale:         c.GetHeader("Accept-Language"),
				QueryCount:     querycounter.Count(c.Request.Context()),
				Err:            handlerErr,
				Stack:          stack,
			}
			recorder.Record(c.Request.Context(), in)
		}

		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				record(err, callStack(3))
				panic(rec)
			}
		}()

		c.Next()

		var handlerErr error
		if last := c.Errors.Last(); last != nil {
			handlerErr = last.Err
		}
		record(handlerErr, nil)
	}
}

// fullURL reconstructs the absolute request URL including scheme, host
// and query string.
func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// endpointOf prefers the route pattern over the raw path so records
// aggregate per route, not per parameter value.
func endpointOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// clientIP prefers the forwarding headers over the socket address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}

func contextUserID(c *gin.Context) *string {
	if id := c.GetString(ContextUserID); id != "" {
		return &id
	}
	return nil
}

// callStack collects bounded "file.go:line" frames starting above the
// recover machinery.
func callStack(skip int) []string {
	const maxFrames = 8
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	var out []string
	for {
		frame, more := frames.Next()
		if frame.File != "" {
			out = append(out, fmt.Sprintf("%s:%d", frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}
