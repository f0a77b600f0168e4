package api

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (s *Server) mode() string {
	if s.cfg.Server.Mode == gin.DebugMode {
		return "debug"
	}
	return "production"
}

// HealthHandler answers liveness probes.
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "active",
		"bot":    s.cfg.Telegram.Username,
		"mode":   s.mode(),
	})
}

func (s *Server) StatsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := s.stats.TotalUsers(ctx)
	if err != nil {
		log.Errorf("stats: count users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	down, up, err := s.stats.TotalTraffic(ctx)
	if err != nil {
		log.Errorf("stats: traffic: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}

	uptime := time.Since(s.started).Truncate(time.Second)
	c.JSON(http.StatusOK, gin.H{
		"users":          users,
		"downloaded":     down,
		"uploaded":       up,
		"traffic":        humanize.IBytes(uint64(down + up)),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"active_jobs":    s.jobs.Len(),
	})
}

func (s *Server) JobsHandler(c *gin.Context) {
	jobs := s.jobs.Snapshot()
	c.JSON(http.StatusOK, gin.H{"count": len(jobs), "jobs": jobs})
}
