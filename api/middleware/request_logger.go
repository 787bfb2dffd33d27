package middleware

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/vova616/xxhash"
)

// requestLogger builds a single-line request log entry.  Query params are hashed
// rather than logged verbatim since date lists can be long and repetitive.
type requestLogger struct {
	buf *bytes.Buffer
}

func newRequestLogger() *requestLogger {
	return &requestLogger{
		buf: &bytes.Buffer{},
	}
}

func (r *requestLogger) write(format string, args ...interface{}) {
	fmt.Fprintf(r.buf, format, args...)
}

func (r *requestLogger) requestType(reqType string) *requestLogger {
	r.write("%s ", reqType)
	return r
}

func (r *requestLogger) request(request string) *requestLogger {
	url := strings.Split(request, "?")[0]
	segments := strings.Split(url, "/")
	if len(segments) == 2 && segments[0] == "" && segments[1] == "" {
		r.write("/")
		return r
	}
	for _, segment := range segments {
		if segment != "" {
			r.write("/")
			r.write(segment)
		}
	}
	return r
}

func (r *requestLogger) params(request string) *requestLogger {
	urlsplit := strings.Split(request, "?")
	if len(urlsplit) > 1 {
		r.write("?")
		hash := xxhash.Checksum32([]byte(urlsplit[1]))
		r.write("%#x ", hash)
	} else {
		r.buf.WriteString(" ")
	}
	return r
}

func (r *requestLogger) status(status int) *requestLogger {
	r.write("%03d", status)
	return r
}

func (r *requestLogger) duration(duration time.Duration) *requestLogger {
	r.buf.WriteString(" in ")
	r.write("%.2fms", duration.Seconds()*1000)
	return r
}

func (r *requestLogger) render() *bytes.Buffer {
	return r.buf
}
