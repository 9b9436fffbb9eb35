package gateway

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/c360/natsbridge/errors"
)

// Response bodies
const (
	msgAccessDenied    = "Access denied"
	msgMissingTopicURL = "Missing topic in URL"
	msgSubscribeFailed = "Failed to subscribe: "
	msgSubscribed      = "Subscribed to topic: "
	msgMissingTopicHdr = `Missing "topic" header`
	msgInvalidJSON     = "Invalid JSON payload"
	msgPayloadTooLarge = "Payload too large"
	msgBusUnavailable  = "NATS server unavailable"
	msgPublishFailed   = "Error publishing message"
	msgPublished       = "Message published successfully"
	msgNotFound        = "Not Found"
	requestIDHeader    = "X-Request-ID"
	topicHeader        = "topic"
	contentTypeText    = "text/plain; charset=utf-8"
)

var loopback = net.IPv4(127, 0, 0, 1)

// getOrGenerateRequestID returns the caller's X-Request-ID or a new UUID
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(requestIDHeader); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// isLoopback reports whether remoteAddr is 127.0.0.1, also in its
// IPv4-mapped IPv6 form. Other loopback addresses are rejected.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.Equal(loopback)
}

// ServeHTTP routes a gateway request
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := getOrGenerateRequestID(r)
	w.Header().Set(requestIDHeader, requestID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		s.metrics.RecordRequest(r.Method, rec.status)
	}()

	logger := s.logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)

	if !isLoopback(r.RemoteAddr) {
		logger.Warn("rejected non-loopback request", "remote", r.RemoteAddr)
		writeText(rec, http.StatusForbidden, msgAccessDenied)
		return
	}

	switch {
	case r.Method == http.MethodGet:
		s.handleSubscribe(rec, r, logger)
	case r.Method == http.MethodPost && r.URL.Path == "/":
		s.handlePublish(rec, r, logger)
	default:
		writeText(rec, http.StatusNotFound, msgNotFound)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	subject := strings.TrimPrefix(r.URL.Path, "/")
	if subject == "" {
		writeText(w, http.StatusBadRequest, msgMissingTopicURL)
		return
	}

	if err := s.subscriber.Subscribe(r.Context(), subject); err != nil {
		logger.Warn("subscribe failed", "subject", subject, "error", err)
		writeText(w, http.StatusServiceUnavailable, msgSubscribeFailed+errors.Reason(err))
		return
	}

	writeText(w, http.StatusOK, msgSubscribed+subject)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	subject := r.Header.Get(topicHeader)
	if subject == "" {
		writeText(w, http.StatusBadRequest, msgMissingTopicHdr)
		return
	}

	payload, err := s.readPayload(w, r)
	if err != nil {
		logger.Debug("rejected payload", "subject", subject, "error", err)
		status := statusFor(err)
		if status == http.StatusRequestEntityTooLarge {
			writeText(w, status, msgPayloadTooLarge)
			return
		}
		writeText(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	if err := s.publisher.EnsureConnected(r.Context()); err != nil {
		logger.Warn("publish rejected, bus unavailable", "subject", subject, "error", err)
		writeText(w, http.StatusServiceUnavailable, msgBusUnavailable)
		return
	}

	if err := s.publisher.Publish(r.Context(), subject, payload); err != nil {
		logger.Error("publish failed", "subject", subject, "error", err)
		writeText(w, http.StatusInternalServerError, msgPublishFailed)
		return
	}

	logger.Debug("published", "subject", subject, "size", len(payload))
	writeText(w, http.StatusOK, msgPublished)
}

// readPayload reads the whole body and returns it as compact JSON
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.WrapInvalid(errors.ErrPayloadTooLarge, "Server", "readPayload", "read body")
		}
		return nil, errors.WrapInvalid(err, "Server", "readPayload", "read body")
	}

	if !utf8.Valid(body) {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "Server", "readPayload", "decode UTF-8")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "Server", "readPayload", "parse JSON")
	}
	return compact.Bytes(), nil
}

// statusFor maps a classified error to the HTTP status returned to callers
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, errors.ErrAccessDenied):
		return http.StatusForbidden
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	}

	switch errors.Classify(err) {
	case errors.ErrorInvalid:
		return http.StatusBadRequest
	case errors.ErrorFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
