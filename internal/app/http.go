package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"navsphere/api/internal/auth"
	"navsphere/api/internal/engine"
	"navsphere/api/internal/navigation"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const homeCacheControl = "s-maxage=3600, stale-while-revalidate"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	tracer     trace.Tracer
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		tracer:     otel.Tracer("navsphere/api/internal/app"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Ready(ctx) {
			if err != nil {
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}
		status := "ready"
		if statusCode != http.StatusOK {
			status = "not_ready"
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     statusCode == http.StatusOK,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/home/navigation" {
		doc, err := s.service.GetResolvedNavigation(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", homeCacheControl)
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name        string `json:"name"`
			AccessToken string `json:"accessToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.AccessToken)
		if err != nil {
			var domainErr *DomainError
			if errors.As(err, &domainErr) {
				writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
				return
			}
			log.WithContext(r.Context()).WithError(err).Error("login failed")
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if token := bearerToken(r); token != "" {
			if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				_ = s.service.Logout(r.Context(), session)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "navigation" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleNavigation(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleNavigation(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			doc, version, err := s.service.GetNavigation(r.Context(), session)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			w.Header().Set("ETag", fmt.Sprintf("%q", version))
			writeJSON(w, http.StatusOK, map[string]any{"navigation": doc, "version": version})
		case http.MethodPost:
			var body struct {
				Category *navigation.Category `json:"category"`
				Position *int                 `json:"position"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Category == nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "category is required", nil)
				return
			}
			input := AddCategoryInput{Category: *body.Category, Position: -1}
			if body.Position != nil {
				input.Position = *body.Position
			}
			result, err := s.service.AddCategory(r.Context(), input, session)
			s.writeMutation(w, r, http.StatusCreated, result, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		result, err := s.service.RemoveCategory(r.Context(), id, session)
		s.writeMutation(w, r, http.StatusOK, result, err)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "move-to-bottom":
		result, err := s.service.MoveCategoryToBottom(r.Context(), id, session)
		s.writeMutation(w, r, http.StatusOK, result, err)
	case "move-to-top":
		result, err := s.service.MoveCategoryToTop(r.Context(), id, session)
		s.writeMutation(w, r, http.StatusOK, result, err)
	case "move":
		var body struct {
			Position *int `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Position == nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "position is required", nil)
			return
		}
		result, err := s.service.MoveCategory(r.Context(), id, *body.Position, session)
		s.writeMutation(w, r, http.StatusOK, result, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) writeMutation(w http.ResponseWriter, r *http.Request, status int, result MutationResult, err error) {
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	payload := map[string]any{
		"success": true,
		"moved":   result.Changed,
		"version": result.Version,
	}
	if !result.Changed {
		payload["message"] = result.Message
		status = http.StatusOK
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	entry := log.WithContext(r.Context()).WithError(err).WithFields(log.Fields{
		"request_id": requestID,
		"code":       code,
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		ctx = context.WithValue(ctx, requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		span.SetAttributes(attribute.Int("http.status_code", writer.status))
		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, navigation.ErrInvalidDocument) {
			return err
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

var kindStatus = map[engine.Kind]int{
	engine.KindUnauthorized:    http.StatusUnauthorized,
	engine.KindNotFound:        http.StatusNotFound,
	engine.KindVersionConflict: http.StatusConflict,
	engine.KindInvalidRequest:  http.StatusUnprocessableEntity,
	engine.KindInvalidDocument: http.StatusInternalServerError,
	engine.KindFetchFailed:     http.StatusBadGateway,
	engine.KindTransport:       http.StatusServiceUnavailable,
	engine.KindCanceled:        http.StatusRequestTimeout,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		status, ok := kindStatus[engineErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, string(engineErr.Kind), engineErr.Detail, nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
