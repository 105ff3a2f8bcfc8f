package middleware

import (
	"bytes"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/AntigravityProxyAPI/internal/logging"
)

// requestInfo is the captured request side of one logged exchange.
type requestInfo struct {
	URL     string
	Method  string
	Headers map[string][]string
	Body    []byte
}

// responseWriterWrapper tees the response into the request logger. The
// client write always happens first; logging never blocks the response.
type responseWriterWrapper struct {
	gin.ResponseWriter
	body         *bytes.Buffer
	isStreaming  bool
	streamWriter logging.StreamingLogWriter
	chunkChannel chan []byte
	logger       logging.RequestLogger
	requestInfo  *requestInfo
	statusCode   int
	headers      map[string][]string
}

func newResponseWriterWrapper(w gin.ResponseWriter, logger logging.RequestLogger, info *requestInfo) *responseWriterWrapper {
	return &responseWriterWrapper{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		logger:         logger,
		requestInfo:    info,
		headers:        make(map[string][]string),
	}
}

func (w *responseWriterWrapper) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)

	if w.isStreaming {
		if w.chunkChannel != nil {
			select {
			case w.chunkChannel <- append([]byte(nil), data...):
			default:
				// channel full, drop the chunk rather than block the client
			}
		}
	} else {
		w.body.Write(data)
	}
	return n, err
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode

	for key, values := range w.ResponseWriter.Header() {
		w.headers[key] = values
	}

	w.isStreaming = w.detectStreaming(w.ResponseWriter.Header().Get("Content-Type"))

	if w.isStreaming && w.logger.IsEnabled() {
		streamWriter, err := w.logger.LogStreamingRequest(
			w.requestInfo.URL,
			w.requestInfo.Method,
			w.requestInfo.Headers,
			w.requestInfo.Body,
		)
		if err == nil {
			w.streamWriter = streamWriter
			w.chunkChannel = make(chan []byte, 100)
			go w.processStreamingChunks()
			_ = streamWriter.WriteStatus(statusCode, w.headers)
		}
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) detectStreaming(contentType string) bool {
	if strings.Contains(contentType, "text/event-stream") {
		return true
	}
	body := string(w.requestInfo.Body)
	return strings.Contains(body, `"stream": true`) || strings.Contains(body, `"stream":true`)
}

func (w *responseWriterWrapper) processStreamingChunks() {
	for chunk := range w.chunkChannel {
		w.streamWriter.WriteChunkAsync(chunk)
	}
}

// Finalize flushes the captured exchange into the logger once the handler
// chain has finished.
func (w *responseWriterWrapper) Finalize(c *gin.Context) error {
	if !w.logger.IsEnabled() {
		return nil
	}

	if w.isStreaming {
		if w.chunkChannel != nil {
			close(w.chunkChannel)
			w.chunkChannel = nil
		}
		if w.streamWriter != nil {
			return w.streamWriter.Close()
		}
		return nil
	}

	statusCode := w.statusCode
	if statusCode == 0 {
		statusCode = 200
	}

	finalHeaders := make(map[string][]string)
	for key, values := range w.ResponseWriter.Header() {
		finalHeaders[key] = values
	}
	for key, values := range w.headers {
		finalHeaders[key] = values
	}

	var apiResponse []byte
	if value, ok := c.Get("API_RESPONSE"); ok {
		apiResponse, _ = value.([]byte)
	}

	return w.logger.LogRequest(
		w.requestInfo.URL,
		w.requestInfo.Method,
		w.requestInfo.Headers,
		w.requestInfo.Body,
		statusCode,
		finalHeaders,
		w.body.Bytes(),
		nil,
		apiResponse,
	)
}

func (w *responseWriterWrapper) Status() int {
	if w.statusCode == 0 {
		return 200
	}
	return w.statusCode
}

func (w *responseWriterWrapper) Size() int {
	if w.isStreaming {
		return -1
	}
	return w.body.Len()
}

func (w *responseWriterWrapper) Written() bool {
	return w.statusCode != 0
}
