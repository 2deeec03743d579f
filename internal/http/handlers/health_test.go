package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubHeartbeats struct {
	hb  *models.WorkerHeartbeat
	err error
}

func (s stubHeartbeats) GetHeartbeat(context.Context) (*models.WorkerHeartbeat, error) {
	return s.hb, s.err
}

func TestHealthHandler_GetLivez(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetLivez(context.Background(), &LivezInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", output.Body.Status)
	}
}

func TestHealthHandler_GetReadyz(t *testing.T) {
	t.Run("not ready when stores not configured", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0")

		output, err := handler.GetReadyz(context.Background(), &ReadyzInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if output.Body.Status != "not_ready" {
			t.Errorf("expected 'not_ready', got '%s'", output.Body.Status)
		}
		if output.Body.Components["database"] != "unconfigured" {
			t.Errorf("expected database 'unconfigured', got '%s'", output.Body.Components["database"])
		}
	})

	t.Run("ready when both stores ping", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").
			WithDB(stubPinger{}).
			WithRedis(stubPinger{})

		output, err := handler.GetReadyz(context.Background(), &ReadyzInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if output.Body.Status != "ready" {
			t.Errorf("expected 'ready', got '%s'", output.Body.Status)
		}
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "healthy" {
		t.Errorf("expected 'healthy' with nothing configured, got '%s'", output.Body.Status)
	}
	if output.Body.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", output.Body.Version)
	}
	if output.Body.CPUCores == 0 {
		t.Error("expected non-zero CPU cores")
	}
}

func TestHealthHandler_WorkerStates(t *testing.T) {
	now := time.Now()

	t.Run("fresh heartbeat is ok", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithHeartbeats(stubHeartbeats{
			hb: &models.WorkerHeartbeat{Status: "healthy", WorkerID: "w1", LastSeen: now.Unix()},
		})
		got := handler.workerHealth(context.Background(), now)
		if got.Status != "ok" {
			t.Errorf("expected 'ok', got '%s'", got.Status)
		}
	})

	t.Run("old heartbeat is stale", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithHeartbeats(stubHeartbeats{
			hb: &models.WorkerHeartbeat{Status: "healthy", WorkerID: "w1", LastSeen: now.Add(-2 * time.Minute).Unix()},
		})
		got := handler.workerHealth(context.Background(), now)
		if got.Status != "stale" {
			t.Errorf("expected 'stale', got '%s'", got.Status)
		}
	})

	t.Run("missing heartbeat", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithHeartbeats(stubHeartbeats{})
		got := handler.workerHealth(context.Background(), now)
		if got.Status != "missing" {
			t.Errorf("expected 'missing', got '%s'", got.Status)
		}
	})

	t.Run("unreachable store", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithHeartbeats(stubHeartbeats{err: errors.New("dial refused")})
		got := handler.workerHealth(context.Background(), now)
		if got.Status != "down" {
			t.Errorf("expected 'down', got '%s'", got.Status)
		}
	})
}
