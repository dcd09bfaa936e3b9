package http

import (
	"errors"
	"html/template"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/bundle"
	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
	"github.com/tonk-labs/tonk-sub003/internal/shared/paths"
)

// reservedSegments are static runtime paths under the scope that this
// subsystem never claims.
var reservedSegments = map[string]bool{
	"runtime": true,
	"worker":  true,
}

// errorPage is the diagnostic rendered on fetch failures. It is the user's
// only feedback channel in a fetch-interception context, so it is never
// swallowed into a blank response.
var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Bundle fetch failed</title></head>
<body>
<h1>Bundle fetch failed</h1>
<p><strong>Bundle:</strong> {{.BundleID}}</p>
<p><strong>Path:</strong> {{.Path}}</p>
<p><strong>Error:</strong> {{.Error}}</p>
</body>
</html>
`))

// FetchHandler serves bundle files for requests under the scope prefix.
type FetchHandler struct {
	reg          *bundle.Registry
	orch         *bundle.Orchestrator
	scope        string
	readyTimeout time.Duration
	metrics      *monitoring.Metrics
	logger       *logging.Logger
}

// NewFetchHandler creates the fetch router. metrics may be nil.
func NewFetchHandler(reg *bundle.Registry, orch *bundle.Orchestrator, scope string, readyTimeout time.Duration, metrics *monitoring.Metrics, logger *logging.Logger) *FetchHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if readyTimeout <= 0 {
		readyTimeout = 15 * time.Second
	}
	return &FetchHandler{
		reg:          reg,
		orch:         orch,
		scope:        strings.TrimSuffix(scope, "/"),
		readyTimeout: readyTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Serve handles one intercepted request. Paths outside this subsystem's
// authority pass through untouched (a plain 404 here, since no downstream
// handler exists); resolution never synthesizes one for files it does own.
func (h *FetchHandler) Serve(c *gin.Context) {
	start := time.Now()
	urlPath := c.Request.URL.Path

	// Websocket upgrades and reserved runtime assets bypass entirely.
	if websocket.IsWebSocketUpgrade(c.Request) {
		c.Status(http.StatusNotFound)
		return
	}
	if h.isReserved(urlPath) {
		c.Status(http.StatusNotFound)
		return
	}

	// The bare scope is the reset signal: cached bundle and app-slug state
	// clears back to idle.
	if paths.IsScopeRoot(urlPath, h.scope) {
		if err := h.orch.ClearResume(); err != nil {
			h.logger.Warn("reset signal: cache clear failed", zap.Error(err))
		}
		h.record("reset", start)
		c.Status(http.StatusNoContent)
		return
	}

	resolved, ok := paths.Resolve(urlPath, h.scope)
	if !ok {
		h.record("passthrough", start)
		c.Status(http.StatusNotFound)
		return
	}

	st, err := h.reg.GetStore(resolved.BundleID)
	if err != nil {
		// Restart recovery may still be reconstructing this bundle.
		h.orch.AwaitReady(c.Request.Context(), h.readyTimeout)
		st, err = h.reg.GetStore(resolved.BundleID)
	}
	if err != nil {
		h.record("not_ready", start)
		h.renderError(c, http.StatusServiceUnavailable, resolved.BundleID, resolved.RelativePath, err)
		return
	}

	target := resolved.StorePath()
	present, err := st.Exists(target)
	if err != nil {
		h.record("error", start)
		h.renderError(c, http.StatusInternalServerError, resolved.BundleID, resolved.RelativePath, err)
		return
	}
	outcome := "served"
	if !present {
		// Single-page-app convention: unknown paths serve the app's
		// index document rather than a hard 404.
		target = resolved.IndexPath()
		outcome = "index_fallback"
	}

	content, err := st.ReadFile(target)
	if err != nil {
		h.record("error", start)
		h.renderError(c, http.StatusNotFound, resolved.BundleID, resolved.RelativePath, err)
		return
	}

	h.record(outcome, start)
	h.writeContent(c, target, content)
}

func (h *FetchHandler) writeContent(c *gin.Context, target string, content *store.FileContent) {
	if content.Bytes != nil {
		c.Data(http.StatusOK, contentTypeFor(target, content.Bytes), content.Bytes)
		return
	}
	payload := []byte(content.Content)
	c.Data(http.StatusOK, contentTypeFor(target, payload), payload)
}

func (h *FetchHandler) renderError(c *gin.Context, status int, bundleID, path string, err error) {
	h.logger.WithBundle(bundleID).Warn("fetch failed",
		zap.String("path", path), zap.Int("status", status), zap.Error(err))

	msg := err.Error()
	if errors.Is(err, bundle.ErrNotInitialized) {
		msg = "bundle is not loaded; initiate a load from the client"
	}
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	errorPage.Execute(c.Writer, map[string]string{
		"BundleID": bundleID,
		"Path":     path,
		"Error":    msg,
	})
}

func (h *FetchHandler) isReserved(urlPath string) bool {
	rest := strings.TrimPrefix(urlPath, h.scope)
	rest = strings.TrimPrefix(rest, "/")
	first, _, _ := strings.Cut(rest, "/")
	return reservedSegments[first]
}

func (h *FetchHandler) record(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.RecordFetch(outcome, time.Since(start))
	}
}

// contentTypeFor picks a Content-Type by extension, sniffing the payload
// when the extension is unknown.
func contentTypeFor(path string, payload []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return mimetype.Detect(payload).String()
}
