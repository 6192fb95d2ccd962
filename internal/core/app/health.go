package app

import (
	"context"
	"fmt"
	"raafstore/internal/shared/util"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Mode       string            `json:"mode"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

// Check reports "up", "degraded" when something the current mode does not depend on is
// failing, or "down" when the mode cannot serve requests.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Mode:       string(s.app.Mode),
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(s.app.startedAt).Round(time.Second).String(),
		Components: make(map[string]string),
	}

	if err := s.ping(ctx); err != nil {
		status.Components["store"] = "unavailable: " + err.Error()
		if s.app.Mode.UsesStore() {
			status.Status = "down"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Components["store"] = "ok"
	}

	if n, err := s.app.Journal.PendingCount(ctx); err != nil {
		status.Components["journal"] = "unavailable: " + err.Error()
		if status.Status == "up" {
			status.Status = "degraded"
		}
	} else {
		status.Components["journal"] = fmt.Sprintf("ok (%d pending)", n)
	}

	status.Components["file_tree"] = s.app.Files.Root()
	status.Components["heap"] = fmt.Sprintf("%d MB", util.GetHeapAllocMB())
	return status
}

func (s *HealthService) ping(ctx context.Context) error {
	if err := s.app.requireStore("health"); err != nil {
		return err
	}
	return s.app.Store.Ping(ctx)
}
