package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/signal"
)

// EngineSource 由运行器实现，向状态接口暴露引擎视图。
type EngineSource interface {
	Engines() []*signal.Engine
	StopEngine(key signal.Key) bool
}

// GateView 暴露组合层占用情况。
type GateView interface {
	OpenCount() int
}

// Server 提供只读状态查询和引擎排空入口。
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr    string
	Source  EngineSource
	Gate    GateView
	Trading config.Provider
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("http server requires an engine source")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", handleStatus(cfg))
	api.GET("/signals", handleSignals(cfg.Source))
	api.GET("/config", handleConfig(cfg.Trading))
	api.POST("/engines/:strategy/:symbol/stop", handleStop(cfg.Source))

	return &Server{addr: cfg.Addr, router: router}, nil
}

type engineStatus struct {
	Key       string         `json:"key"`
	Stopped   bool           `json:"stopped"`
	State     string         `json:"state"`
	Open      *signal.Signal `json:"open,omitempty"`
	Scheduled *signal.Signal `json:"scheduled,omitempty"`
}

func viewOf(e *signal.Engine) engineStatus {
	open, scheduled := e.Snapshot()
	state := "idle"
	switch {
	case open != nil:
		state = "opened"
	case scheduled != nil:
		state = "scheduled"
	}
	return engineStatus{
		Key:       e.Key().String(),
		Stopped:   e.Stopped(),
		State:     state,
		Open:      open,
		Scheduled: scheduled,
	}
}

func handleStatus(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		engines := cfg.Source.Engines()
		views := make([]engineStatus, 0, len(engines))
		for _, e := range engines {
			views = append(views, viewOf(e))
		}
		resp := gin.H{"engines": views}
		if cfg.Gate != nil {
			resp["open_positions"] = cfg.Gate.OpenCount()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleSignals(src EngineSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var inflight []engineStatus
		for _, e := range src.Engines() {
			v := viewOf(e)
			if v.Open != nil || v.Scheduled != nil {
				inflight = append(inflight, v)
			}
		}
		c.JSON(http.StatusOK, gin.H{"signals": inflight})
	}
}

func handleConfig(trading config.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trading == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "config not exposed"})
			return
		}
		c.JSON(http.StatusOK, trading.Trading())
	}
}

func handleStop(src EngineSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := signal.Key{Strategy: c.Param("strategy"), Symbol: c.Param("symbol")}
		if !src.StopEngine(key) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown engine " + key.String()})
			return
		}
		logger.Infof("http: engine %s set to drain", key)
		c.JSON(http.StatusOK, gin.H{"key": key.String(), "stopped": true})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

// Handler 暴露底层路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }
