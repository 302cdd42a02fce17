package capture

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// StaticPrefix marks sub-resource requests; failures under it are
	// reported as resource errors.
	StaticPrefix string
	// SkipInteraction lists path prefixes that are not added to the
	// interaction trail, such as dashboard polling.
	SkipInteraction []string
}

// Middleware records each request as an interaction, reports panics as
// uncaught faults and failed static requests as resource failures. Panics
// are re-raised so the outer recovery middleware still answers the request.
func (c *Capture) Middleware(hub *Hub, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		urlPath := ctx.Request.URL.Path
		if !hasAnyPrefix(urlPath, cfg.SkipInteraction) {
			c.TrackInteraction("request", ctx.Request.Method+" "+urlPath)
		}

		defer func() {
			if rec := recover(); rec != nil {
				if !isAbortPanic(rec) {
					err := panicAsError(rec)
					hub.EmitUncaught(Fault{Err: err, Message: err.Error(), Source: panicSource(), Stack: stack()})
				}
				panic(rec)
			}
		}()

		ctx.Next()

		if cfg.StaticPrefix != "" && strings.HasPrefix(urlPath, cfg.StaticPrefix) && ctx.Writer.Status() >= 400 {
			hub.EmitResource(ResourceFailure{
				URL:    urlPath,
				Kind:   ResourceKind(urlPath),
				Status: ctx.Writer.Status(),
			})
		}
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
