package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/claimflow/backend/internal/infrastructure/resilience"
	"github.com/claimflow/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// CircuitLister exposes the circuit breakers of the process
type CircuitLister interface {
	Snapshots() []resilience.Snapshot
}

// Pinger checks a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// poolReporter is implemented by stores that expose connection pool usage
type poolReporter interface {
	PoolUsage() (inUse, limit int, err error)
}

// SystemHandler handles health and operational endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	circuits  CircuitLister
	db        Pinger
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, circuits CircuitLister, db Pinger) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		circuits:  circuits,
		db:        db,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// Health reports liveness plus the database check. An open circuit does not
// make the service unhealthy; it only stops settlement.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    map[string]string{},
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
		if pool, ok := h.db.(poolReporter); ok {
			resp.Checks["database_pool"] = poolCheck(pool)
		}
	}
	for _, snap := range h.circuits.Snapshots() {
		resp.Checks["circuit:"+snap.Endpoint] = snap.State.String()
	}

	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: resp})
}

// Circuits lists every circuit breaker with its state and counters.
// GET /system/circuits
func (h *SystemHandler) Circuits(c *gin.Context) {
	h.Success(c, h.circuits.Snapshots())
}

// poolCheck describes pool usage. A saturated pool is reported but does not
// fail the health check.
func poolCheck(pool poolReporter) string {
	inUse, limit, err := pool.PoolUsage()
	switch {
	case err != nil:
		return err.Error()
	case limit == 0:
		return fmt.Sprintf("%d in use", inUse)
	case inUse >= limit:
		return fmt.Sprintf("saturated: %d/%d in use", inUse, limit)
	default:
		return fmt.Sprintf("%d/%d in use", inUse, limit)
	}
}
