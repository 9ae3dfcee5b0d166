// Package devserver serves the project root with live reload.
package devserver

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/target"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Prefix is reserved for the server's own endpoints.
	Prefix       = "/__assetooni"
	wsPath       = Prefix + "/ws"
	clientPath   = Prefix + "/client.js"
	portAttempts = 100

	shutdownTimeout = 5 * time.Second
)

//go:embed client.js
var clientScript []byte

var snippet = []byte(`<script src="` + clientPath + `" async></script>`)

// Server is a static file server whose HTML pages reload or restyle
// themselves when told to.
type Server struct {
	settings target.ServerSettings
	hub      *hub
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu   sync.Mutex
	addr string
}

func New(settings target.ServerSettings) *Server {
	gin.SetMode(gin.ReleaseMode)
	if settings.Root == "" {
		settings.Root = "."
	}

	s := &Server{
		settings: settings,
		hub:      newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.GET(wsPath, s.handleWS)
	r.GET(clientPath, s.handleClient)
	r.NoRoute(s.handleStatic)
	s.engine = r

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr is the address the server listens on once Start has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Clients is the number of connected pages.
func (s *Server) Clients() int { return s.hub.count() }

// Reload tells every connected page to reload.
func (s *Server) Reload() {
	logger.Debug("Reloading browsers", "clients", s.hub.count())
	s.hub.broadcast(Message{Command: "reload"})
}

// Inject swaps a stylesheet in place. Anything that cannot be injected
// becomes a full reload.
func (s *Server) Inject(kind, file string) {
	if kind != "css" || !s.settings.InjectCSS {
		s.Reload()
		return
	}
	logger.Debug("Injecting", "kind", kind, "path", file, "clients", s.hub.count())
	s.hub.broadcast(Message{Command: "inject", Kind: kind, Path: filepath.ToSlash(file)})
}

// Start serves until ctx is done, then shuts down gracefully. A busy port
// is skipped for the next free one.
func (s *Server) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ln, err := listen(s.settings.Host, s.settings.Port, portAttempts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if port := ln.Addr().(*net.TCPAddr).Port; s.settings.Port != 0 && port != s.settings.Port {
		log.Info("Port in use, using next available port", "requested", s.settings.Port, "port", port)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	url := "http://" + s.Addr()
	log.Info("Serving", "url", url, "root", s.settings.Root)
	if s.settings.Open {
		openBrowser(ctx, url)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "dev server failed")
	case <-ctx.Done():
	}

	log.Debug("Shutting down dev server")
	s.hub.closeAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "dev server shutdown failed")
	}
	return nil
}

func listen(host string, port, attempts int) (net.Listener, error) {
	if port == 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		return ln, errors.WithStack(err)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port+i)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "no free port in %d-%d", port, port+attempts-1)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	s.hub.register(conn)
}

func (s *Server) handleClient(c *gin.Context) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "var ASSETOONI_NOTIFY = %t;\n", s.settings.Notify)
	buf.Write(clientScript)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", buf.Bytes())
}

// handleStatic serves files below Root. HTML gets the reload client
// injected; everything else is served untouched.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	name := filepath.Join(s.settings.Root, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}

	if !strings.EqualFold(filepath.Ext(name), ".html") && !strings.EqualFold(filepath.Ext(name), ".htm") {
		c.Header("Cache-Control", "no-cache")
		c.File(name)
		return
	}

	page, err := os.ReadFile(name)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to read %s", c.Request.URL.Path)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", InjectClient(page))
}

// InjectClient puts the reload script before the last </body>, or at the
// end of documents without one.
func InjectClient(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), page...), snippet...)
	}

	out := make([]byte, 0, len(page)+len(snippet))
	out = append(out, page[:idx]...)
	out = append(out, snippet...)
	out = append(out, page[idx:]...)
	return out
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if strings.HasPrefix(c.Request.URL.Path, Prefix) {
			return
		}
		logger.Debug("Served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	}
}
