package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"roomchat/internal/storage/zapadapter"
)

// maxBodySize limits JSON request bodies
const maxBodySize = 1 << 20

// rejection is an HTTP error answered by a middleware
type rejection struct {
	status  int
	message string
}

func (r *rejection) write(w http.ResponseWriter) {
	http.Error(w, r.message, r.status)
}

// enforcePostJson accepts only POST requests carrying a valid JSON body.
// A request without Content-Type is treated as application/json.
func enforcePostJson(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		if rej := checkContentType(r); rej != nil {
			rej.write(w)
			return
		}

		body, rej := readJSON(w, r)
		if rej != nil {
			rej.write(w)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		next.ServeHTTP(w, r)
	})
}

func checkContentType(r *http.Request) *rejection {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		r.Header.Set("Content-Type", "application/json")
		return nil
	}

	mt, _, err := mime.ParseMediaType(contentType)
	switch {
	case err != nil:
		return &rejection{http.StatusBadRequest, "Malformed Content-Type header"}
	case mt != "application/json":
		return &rejection{http.StatusUnsupportedMediaType, "Content-Type header must be application/json"}
	}
	return nil
}

func readJSON(w http.ResponseWriter, r *http.Request) ([]byte, *rejection) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &rejection{http.StatusRequestEntityTooLarge, "Request body is too large"}
		}
		return nil, &rejection{http.StatusBadRequest, "Can not read request body"}
	}

	if len(body) == 0 {
		return nil, &rejection{http.StatusBadRequest, "No body provided"}
	}
	if err := fastjson.ValidateBytes(body); err != nil {
		return nil, &rejection{http.StatusBadRequest, "Malformed JSON"}
	}
	return body, nil
}

// statusWriter remembers the status code written through it. It stays hijackable for websockets.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// log assigns a trace id to the request, hands it to pgx through the context and logs the request
// together with its outcome
func log(next http.Handler, logger *zap.Logger, pattern string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		start := time.Now()

		logger.Info("incoming http request",
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("uri", r.URL.RequestURI()),
			zap.String("ip", r.RemoteAddr),
		)

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(zapadapter.WithTraceID(r.Context(), id)))

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		httpRequests.WithLabelValues(pattern, strconv.Itoa(sw.status)).Inc()
		logger.Debug("http request served",
			zap.String("id", id),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}
