package esigin

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// bufferedWriter holds a handler's output until the middleware decides what
// to send. Flush switches it to pass-through for the rest of the request.
type bufferedWriter struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	status    int
	streaming bool
}

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w}
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.streaming {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if code > 0 && w.buf.Len() == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	if w.streaming {
		w.ResponseWriter.WriteHeaderNow()
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.streaming {
		return w.ResponseWriter.Write(b)
	}
	return w.buf.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if w.streaming {
		return w.ResponseWriter.WriteString(s)
	}
	return w.buf.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	if w.streaming {
		return w.ResponseWriter.Status()
	}
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *bufferedWriter) Size() int {
	if w.streaming {
		return w.ResponseWriter.Size()
	}
	if w.status == 0 && w.buf.Len() == 0 {
		return -1
	}
	return w.buf.Len()
}

func (w *bufferedWriter) Written() bool {
	if w.streaming {
		return w.ResponseWriter.Written()
	}
	return w.status != 0 || w.buf.Len() > 0
}

func (w *bufferedWriter) Flush() {
	if !w.streaming {
		status := w.Status()
		w.streaming = true
		w.ResponseWriter.WriteHeader(status)
		if w.buf.Len() > 0 {
			_, _ = w.ResponseWriter.Write(w.buf.Bytes())
			w.buf.Reset()
		}
	}
	w.ResponseWriter.Flush()
}

// commit sends the final body. A rewritten body gets a fresh Content-Length.
func (w *bufferedWriter) commit(body []byte, rewritten bool) {
	if rewritten {
		// validators describe the unresolved page
		w.Header().Del("ETag")
		w.Header().Del("Last-Modified")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.ResponseWriter.WriteHeader(w.Status())
	if len(body) > 0 {
		_, _ = w.ResponseWriter.Write(body)
	}
}
