package pinproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"petitions/internal/ipfs"
)

// DefaultFetchTimeout bounds each source tried by the fetch endpoint
const DefaultFetchTimeout = 5 * time.Second

// Pinner is the node surface used for pinning. *shell.Shell implements it.
type Pinner interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
	Pins() (map[string]shell.PinInfo, error)
	Unpin(path string) error
}

// Source is one place content can be read from
type Source struct {
	Name    string
	Fetcher ipfs.Fetcher
}

// Options configures the proxy
type Options struct {
	// Gateways are public gateway base URLs. The first one is used for the
	// gatewayUrl field of upload responses.
	Gateways     []string
	MaxFileBytes int64
	AllowOrigins []string
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Server is the pinning proxy HTTP server
type Server struct {
	engine   *gin.Engine
	http     *http.Server
	pinner   Pinner
	sources  []Source
	opts     Options
	logger   *zap.Logger
	gateway  string
	maxBytes int64
}

// NewServer creates the proxy. sources are tried in order by the fetch
// endpoint.
func NewServer(port int, pinner Pinner, sources []Source, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 500 << 10
	}

	gateway := "https://ipfs.io"
	if len(opts.Gateways) > 0 {
		gateway = strings.TrimRight(opts.Gateways[0], "/")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = 8 << 20

	s := &Server{
		engine:   engine,
		pinner:   pinner,
		sources:  sources,
		opts:     opts,
		logger:   opts.Logger.Named("pinproxy"),
		gateway:  gateway,
		maxBytes: opts.MaxFileBytes,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.attachRoutes()
	return s
}

// GatewaySources turns gateway base URLs into fetch sources
func GatewaySources(gateways []string, client *http.Client) []Source {
	out := make([]Source, 0, len(gateways))
	for _, gw := range gateways {
		gw = strings.TrimRight(gw, "/")
		out = append(out, Source{Name: gw, Fetcher: ipfs.NewGatewayFetcher(gw, client)})
	}
	return out
}

// Handler exposes the engine, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) attachRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.AllowOrigins) == 0 || (len(s.opts.AllowOrigins) == 1 && s.opts.AllowOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.opts.AllowOrigins
	}
	s.engine.Use(cors.New(corsCfg))

	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/ipfs")
	{
		api.POST("/upload-file", s.UploadFile)
		api.POST("/upload-multiple", s.UploadMultiple)
		api.POST("/upload-metadata", s.UploadMetadata)
		api.GET("/fetch", s.Fetch)
		api.GET("/list-pins", s.ListPins)
		api.DELETE("/unpin", s.Unpin)
	}
}

// requestLogger logs every request at debug and failures at warn
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if id := c.GetHeader("X-Request-ID"); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request", fields...)
	}
}

// Start serves in a goroutine
func (s *Server) Start() error {
	go func() {
		s.logger.Info("Pinning proxy starting", zap.String("addr", s.http.Addr), zap.Int("sources", len(s.sources)))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Pinning proxy error", zap.Error(err))
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Pinning proxy shutting down...")
	return s.http.Shutdown(ctx)
}
