package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-errors"
	"github.com/zishang520/socket.io/v2/socket"
)

// ReloadEvent is emitted to connected browsers when the output changes.
const ReloadEvent = "browser:reload"

// reloadClientCDN matches the protocol version of the socket.io server.
const reloadClientCDN = "https://cdn.socket.io/4.7.5/"

var clientScriptPattern = regexp.MustCompile(`^/socket\.io/socket\.io(\.min)?\.js(\.map)?$`)

// DevServer serves the output directory over HTTP and tells connected
// browsers to reload whenever something in it changes.
type DevServer struct {
	dist    string
	cfg     ServerConfig
	logger  Logger
	engine  *gin.Engine
	io      *socket.Server
	reloads atomic.Int64

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	watcher *Watcher
	served  chan struct{}
	closed  bool
}

type ServerOption func(*DevServer)

func WithServerLogger(logger Logger) ServerOption {
	return func(s *DevServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewDevServer(dist string, cfg ServerConfig, opts ...ServerOption) *DevServer {
	gin.SetMode(gin.ReleaseMode)

	s := &DevServer{
		dist:   dist,
		cfg:    cfg,
		logger: scopedLogger(nil, "pipeline:server", nil),
		io:     socket.NewServer(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.io.On("connection", func(clients ...any) {
		s.logger.Debug("browser connected", "clients", len(clients))
	})

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	engine.Any("/socket.io/*any", s.socketHandler())
	engine.NoRoute(s.serveFile)
	s.engine = engine

	return s
}

func (s *DevServer) socketHandler() gin.HandlerFunc {
	eio := s.io.ServeHandler(nil)
	return func(c *gin.Context) {
		if clientScriptPattern.MatchString(c.Request.URL.Path) {
			s.serveClient(c)
			return
		}
		eio.ServeHTTP(c.Writer, c.Request)
	}
}

// serveClient answers the browser client from the installed socket.io-client
// package. Without one it redirects to the matching CDN build.
func (s *DevServer) serveClient(c *gin.Context) {
	name := path.Base(c.Request.URL.Path)
	if s.cfg.ClientDir != "" {
		full := filepath.Join(s.cfg.ClientDir, name)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.Header("Cache-Control", "no-cache")
			c.File(full)
			return
		}
	}
	s.logger.Debug("socket.io client not installed, using CDN", "dir", s.cfg.ClientDir, "file", name)
	c.Redirect(http.StatusFound, reloadClientCDN+name)
}

// Handler exposes the routes without a listener.
func (s *DevServer) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address, begins watching the output
// directory and returns once requests are being served. The server stops when
// ctx is done or on Shutdown.
func (s *DevServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return badInput(CodeServerFailed, "dev server was shut down", nil)
	}
	if s.srv != nil {
		return badInput(CodeServerFailed, "dev server already started", nil)
	}

	if err := os.MkdirAll(s.dist, 0o755); err != nil {
		return chain(err, errors.CategoryInternal, CodeServerFailed, "failed to create "+s.dist)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return chain(err, errors.CategoryExternal, CodeServerFailed, "failed to listen on "+addr).
			WithMetadata(map[string]any{"addr": addr})
	}

	watcher, err := NewWatcher(s.dist, PathSet{"**"}, func(changed []string) {
		s.logger.Info("output changed", "files", len(changed))
		s.Reload()
	},
		WithWatcherDebounce(s.cfg.ReloadDelay),
		WithWatcherLogger(s.logger),
	)
	if err == nil {
		err = watcher.Start(ctx)
	}
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dev server stopped", "error", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("dev server shutdown failed", "error", err)
			}
		case <-served:
		}
	}()

	s.srv, s.ln, s.watcher, s.served = srv, ln, watcher, served
	s.logger.Info("serving", "url", "http://"+ln.Addr().String(), "dir", s.dist)
	return nil
}

// Addr is the address the server listens on, empty before Start.
func (s *DevServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Running reports whether the server is accepting requests.
func (s *DevServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Reload asks every connected browser to reload.
func (s *DevServer) Reload() {
	s.reloads.Add(1)
	s.io.Emit(ReloadEvent)
	s.logger.Debug("reload sent")
}

// Reloads counts the reloads sent so far.
func (s *DevServer) Reloads() int {
	return int(s.reloads.Load())
}

// Shutdown stops the watcher, the socket server and the HTTP server. The
// server cannot be started again afterwards.
func (s *DevServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, watcher, served := s.srv, s.watcher, s.served
	s.srv, s.watcher = nil, nil
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if wasClosed {
		return nil
	}

	s.io.Close(nil)
	if srv == nil {
		return nil
	}

	var errs []error
	if err := watcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, chain(err, errors.CategoryExternal, CodeServerFailed, "failed to stop dev server"))
	}
	<-served

	s.logger.Info("dev server stopped")
	return errors.Join(errs...)
}

func (s *DevServer) serveFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	rel := path.Clean("/" + c.Request.URL.Path)
	name := filepath.Join(s.dist, filepath.FromSlash(rel))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}

	c.Header("Cache-Control", "no-cache")
	if !strings.EqualFold(filepath.Ext(name), ".html") {
		c.File(name)
		return
	}

	data, err := os.ReadFile(name)
	if err != nil {
		s.logger.Error("failed to read page", "path", rel, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", injectReloadSnippet(data, s.reloadSnippet()))
}

func (s *DevServer) reloadSnippet() string {
	return fmt.Sprintf("<script src=%q></script>\n"+
		"<script>(function(){var s=io({path:'/socket.io'});s.on('%s',function(){location.reload();});})();</script>\n",
		s.cfg.ClientScript, ReloadEvent)
}

// injectReloadSnippet places snippet before the last closing body tag, or at
// the end of documents without one.
func injectReloadSnippet(page []byte, snippet string) []byte {
	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(append([]byte(nil), page...), snippet...)
	}

	out := make([]byte, 0, len(page)+len(snippet))
	out = append(out, page[:i]...)
	out = append(out, snippet...)
	return append(out, page[i:]...)
}

func (s *DevServer) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
