package server

import (
	"mime"
	"net/http"
	"os"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/jamesainslie/immutable/pkg/immutable/walk"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

// ImmutableCacheControl is sent with every bundle artifact in production.
const ImmutableCacheControl = "public, max-age=31536000, immutable"

// VersionHeader names the Content Version a mirrored response came from.
const VersionHeader = "X-Immutable-Version"

// artifactHeaders marks a bundle artifact as immutable and embeddable in
// production, and as uncacheable in development.
func artifactHeaders(c *gin.Context, production bool) {
	if production {
		c.Header("Cache-Control", ImmutableCacheControl)
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Allow-CSP-From", "*")
		return
	}
	c.Header("Cache-Control", "no-store")
}

// serveStatic answers from the output tree.
func (s *Server) serveStatic(c *gin.Context) {
	c.Set(sourceKey, SourceStatic)

	for _, candidate := range worker.Candidates(c.Request.URL.Path) {
		abs := walk.Abs(s.opts.Root, candidate)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		body, err := os.ReadFile(abs)
		if err != nil {
			s.log.Error("read artifact", "path", candidate, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		artifactHeaders(c, s.opts.Production)
		c.Data(http.StatusOK, contentType(candidate, body), body)
		return
	}

	if !s.opts.Production {
		c.Header("Cache-Control", "no-store")
	}
	c.String(http.StatusNotFound, "404 page not found")
}

// contentType prefers the extension's registered type and sniffs otherwise.
func contentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(body).String()
}
