package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const hostInterval = 5 * time.Second

// LiveCounter reports how many attempts this instance is running.
type LiveCounter interface {
	Count() int
}

// SystemHandler streams instance health to proctors: live attempts, the
// persistence queue backlog and process statistics.
type SystemHandler struct {
	rdb       redis.Cmdable
	sessions  LiveCounter
	startTime time.Time
	log       zerolog.Logger

	prevIdle  uint64
	prevTotal uint64
}

func NewSystemHandler(rdb redis.Cmdable, sessions LiveCounter, log zerolog.Logger) *SystemHandler {
	h := &SystemHandler{
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
	h.prevIdle, h.prevTotal, _ = readCPUStat()
	return h
}

type hostSnapshot struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	LiveSessions    int   `json:"live_sessions"`
	QueueProgress   int64 `json:"queue_progress"`
	QueueViolations int64 `json:"queue_violations"`

	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	LoadAvg1    float64 `json:"load_avg_1"`
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc"`
	NumGC       uint32  `json:"num_gc"`
	AppRSSBytes uint64  `json:"app_rss_bytes"`
}

// HostSSE godoc
// GET /api/v1/proctor/system
func (h *SystemHandler) HostSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Str("proctor", claims.Name).Msg("Proctor connected to system SSE")

	ticker := time.NewTicker(hostInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	h.write(c, h.collect(ctx))
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("proctor", claims.Name).Msg("Proctor disconnected from system SSE")
			return
		case <-ticker.C:
			h.write(c, h.collect(ctx))
		}
	}
}

func (h *SystemHandler) write(c *gin.Context, snap hostSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: system\ndata: %s\n\n", data)
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) hostSnapshot {
	snap := hostSnapshot{
		Timestamp:  time.Now().Unix(),
		Uptime:     formatUptime(time.Since(h.startTime)),
		Goroutines: runtime.NumGoroutine(),
	}
	if h.sessions != nil {
		snap.LiveSessions = h.sessions.Count()
	}

	if idle, total, err := readCPUStat(); err == nil && total > h.prevTotal {
		snap.CPUPercent = (1 - float64(idle-h.prevIdle)/float64(total-h.prevTotal)) * 100
		h.prevIdle, h.prevTotal = idle, total
	}
	if memTotal, err := readProcKB("/proc/meminfo", "MemTotal:"); err == nil && memTotal > 0 {
		if avail, err := readProcKB("/proc/meminfo", "MemAvailable:"); err == nil {
			snap.MemPercent = float64(memTotal-avail) / float64(memTotal) * 100
		}
	}
	snap.LoadAvg1, _ = readLoadAvg()
	snap.AppRSSBytes, _ = readProcKB("/proc/self/status", "VmRSS:")

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAlloc = ms.HeapAlloc
	snap.NumGC = ms.NumGC

	if h.rdb != nil {
		qctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		pipe := h.rdb.Pipeline()
		progressCmd := pipe.LLen(qctx, config.WorkerKey.PersistProgressQueue)
		violationsCmd := pipe.LLen(qctx, config.WorkerKey.PersistViolationsQueue)
		if _, err := pipe.Exec(qctx); err == nil {
			snap.QueueProgress = progressCmd.Val()
			snap.QueueViolations = violationsCmd.Val()
		}
	}
	return snap
}

// ---------- /proc Readers ----------

// readCPUStat returns idle and total ticks from the aggregate cpu line.
func readCPUStat() (idle, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(strings.SplitN(string(data), "\n", 2)[0])
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, errors.New("unexpected /proc/stat format")
	}
	for i := 1; i < len(fields); i++ {
		v, _ := strconv.ParseUint(fields[i], 10, 64)
		total += v
		if i == 4 {
			idle = v
		}
	}
	return idle, total, nil
}

// readProcKB returns the value of a "Key:  123 kB" line in bytes.
func readProcKB(path, key string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, key) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		return v * 1024, err
	}
	return 0, fmt.Errorf("%s not found in %s", key, path)
}

func readLoadAvg() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, errors.New("unexpected /proc/loadavg format")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
