package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"mediasync/internal/core"
	"mediasync/internal/model"
)

type deviceKeyType struct{}

var deviceKey = deviceKeyType{}

// WithDevice attaches the authenticated device to the context.
func WithDevice(ctx context.Context, d *model.Device) context.Context {
	return context.WithValue(ctx, deviceKey, d)
}

// DeviceFromContext returns the authenticated device, if any.
func DeviceFromContext(ctx context.Context) (*model.Device, bool) {
	d, ok := ctx.Value(deviceKey).(*model.Device)
	return d, ok && d != nil
}

// RegisterDevice handles POST /auth/device-begin. Registration is
// first-writer-wins on the device id: a device registered under one owner
// can never be re-registered under another.
func (s *Server) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req core.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}

	if len(req.DeviceID) < 8 || len(req.DeviceID) > 128 {
		writeError(w, http.StatusBadRequest, "bad_request", "device id must be between 8 and 128 characters", nil)
		return
	}
	if len(req.OwnerID) < 3 || len(req.OwnerID) > 64 {
		writeError(w, http.StatusBadRequest, "bad_request", "owner id must be between 3 and 64 characters", nil)
		return
	}
	if req.DeviceName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "device name is required", nil)
		return
	}
	switch req.DeviceType {
	case "desktop", "mobile", "web":
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "device type must be desktop, mobile, or web", nil)
		return
	}

	ctx := r.Context()
	now := core.NowMillis(s.now)

	if err := s.store.EnsureOwner(ctx, req.OwnerID, now); err != nil {
		s.logger.Error("ensure owner", "owner", req.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
		return
	}

	token, hash, err := newToken()
	if err != nil {
		s.logger.Error("token generation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
		return
	}
	expiresAt := now + int64(s.cfg.TokenTTLDays)*24*time.Hour.Milliseconds()

	existing, err := s.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		s.logger.Error("device lookup", "device", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
		return
	}

	if existing != nil {
		if existing.OwnerID != req.OwnerID {
			s.logger.Warn("device ownership conflict",
				"device", req.DeviceID, "owner", existing.OwnerID, "requested_by", req.OwnerID)
			writeError(w, http.StatusForbidden, "forbidden", "device belongs to another owner", nil)
			return
		}
		if err := s.store.RefreshDeviceToken(ctx, req.DeviceID, hash, expiresAt, now); err != nil {
			s.logger.Error("token refresh", "device", req.DeviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
			return
		}
	} else {
		count, err := s.store.CountActiveDevices(ctx, req.OwnerID)
		if err != nil {
			s.logger.Error("device count", "owner", req.OwnerID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
			return
		}
		if count >= s.cfg.DeviceLimit {
			writeError(w, http.StatusForbidden, "forbidden",
				"maximum number of devices reached", map[string]any{"limit": s.cfg.DeviceLimit})
			return
		}

		device := &model.Device{
			ID:           req.DeviceID,
			OwnerID:      req.OwnerID,
			Name:         req.DeviceName,
			Type:         req.DeviceType,
			Platform:     req.Platform,
			Active:       true,
			RegisteredAt: now,
			LastSeenAt:   now,
		}
		if err := s.store.CreateDevice(ctx, device, hash, expiresAt); err != nil {
			s.logger.Error("device create", "device", req.DeviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to register device", nil)
			return
		}
		s.logger.Info("device registered", "device", req.DeviceID, "owner", req.OwnerID)
	}

	writeJSON(w, http.StatusOK, core.RegisterResponse{Token: token, ExpiresAt: expiresAt})
}

// authMiddleware resolves the bearer token to a device and attaches it to
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
			return
		}

		device, err := s.store.DeviceByTokenHash(r.Context(), hashToken(token), core.NowMillis(s.now))
		if err != nil {
			s.logger.Error("token lookup", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "authentication failed", nil)
			return
		}
		if device == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "token expired or revoked", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device)))
	})
}

func newToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(raw)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
