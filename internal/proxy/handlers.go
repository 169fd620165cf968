package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/bridge"
	"github.com/modelrelay/modelrelay/internal/usage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// enqueueTimeout bounds the fire-and-forget usage enqueue.
const enqueueTimeout = 3 * time.Second

func contextWithEnqueueTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), enqueueTimeout)
}

// Handle returns the gin handler proxying one caller-facing function.
func (e *Engine) Handle(function Function) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := admission.FromGin(c)
		if rc == nil || rc.Deployment == nil {
			admission.NewError(http.StatusInternalServerError, "Service temporarily unavailable").Write(c)
			return
		}

		body, errRead := io.ReadAll(c.Request.Body)
		if errRead != nil {
			admission.NewError(http.StatusBadRequest, "Failed to read request body").Write(c)
			return
		}

		// The upstream knows the deployment name, not the caller's model string.
		rewritten, errRewrite := sjson.SetBytes(body, "model", rc.Deployment.DeploymentName)
		if errRewrite == nil {
			body = rewritten
		}

		path, bridged := upstreamPath(function, rc.Deployment)
		if bridged {
			translated, errTranslate := bridge.TranslateMessagesRequest(body)
			if errTranslate != nil {
				log.WithError(errTranslate).Warn("proxy: request translation failed")
				admission.NewError(http.StatusBadRequest, "Invalid request body").Write(c)
				return
			}
			body = translated
		}

		req, errReq := http.NewRequestWithContext(
			c.Request.Context(),
			http.MethodPost,
			rc.Deployment.BaseURL+path,
			bytes.NewReader(body),
		)
		if errReq != nil {
			admission.NewError(http.StatusInternalServerError, "Service temporarily unavailable").Write(c)
			return
		}
		setUpstreamHeaders(req, rc.Deployment)

		resp, errDo := e.client.Do(req)
		if errDo != nil {
			if c.Request.Context().Err() != nil {
				// Caller went away; nothing left to answer.
				c.Abort()
				return
			}
			log.WithError(errDo).Warn("proxy: upstream request failed")
			admission.NewError(http.StatusBadGateway, "Upstream request failed").Write(c)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		endpoint := c.Request.URL.Path
		if isSSE(resp.Header) {
			e.pipeStream(c, rc, resp, endpoint, bridged)
			return
		}
		e.pipeUnary(c, rc, resp, endpoint, bridged)
	}
}

// pipeUnary relays a JSON response, translating the dialect when bridged and
// harvesting usage after completion.
func (e *Engine) pipeUnary(c *gin.Context, rc *admission.RequestContext, resp *http.Response, endpoint string, bridged bool) {
	upstreamBody, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		log.WithError(errRead).Warn("proxy: upstream body read failed")
		admission.NewError(http.StatusBadGateway, "Upstream response unreadable").Write(c)
		return
	}

	tokens := usage.ExtractUnary(upstreamBody)

	out := upstreamBody
	if bridged {
		translated, errTranslate := bridge.TranslateChatCompletionResponse(rc.Deployment.Provider, resp.StatusCode, upstreamBody)
		if errTranslate != nil {
			log.WithError(errTranslate).Warn("proxy: response translation failed")
		} else {
			out = translated
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, out)

	e.enqueueUsage(rc, endpoint, resp.StatusCode, tokens)
}

// pipeStream relays an SSE response line by line. The usage tap tees every
// original byte; the bridge, when engaged, replaces what the caller sees.
// EOF without a [DONE] sentinel still produces the closing Messages events.
func (e *Engine) pipeStream(c *gin.Context, rc *admission.RequestContext, resp *http.Response, endpoint string, bridged bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(resp.StatusCode)

	flusher, _ := c.Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var translator *bridge.StreamTranslator
	if bridged {
		translator = bridge.NewStreamTranslator(rc.RequestedModel)
	}
	tap := &usage.StreamTap{}

	write := func(payload []byte) {
		if len(payload) == 0 {
			return
		}
		if _, errWrite := c.Writer.Write(payload); errWrite != nil {
			// Caller aborts are swallowed; the upstream context cancels
			// separately via the request context.
			log.WithError(errWrite).Debug("proxy: client write failed")
		}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, errLine := reader.ReadBytes('\n')
		if len(line) > 0 {
			tap.Observe(line)
			if translator != nil {
				write(translator.Feed(line))
			} else {
				write(line)
			}
			flush()
		}
		if errLine != nil {
			if !errors.Is(errLine, io.EOF) && !errors.Is(errLine, context.Canceled) {
				log.WithError(errLine).Debug("proxy: upstream stream ended abnormally")
			}
			break
		}
	}

	if translator != nil {
		write(translator.Finish())
		flush()
	}

	e.enqueueUsage(rc, endpoint, resp.StatusCode, tap.Tokens())
}

// HandlePassthroughGET proxies a public GET endpoint (attestation and
// signature surfaces) to the resolved deployment.
func (e *Engine) HandlePassthroughGET() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := admission.FromGin(c)
		if rc == nil || rc.Deployment == nil {
			admission.NewError(http.StatusInternalServerError, "Service temporarily unavailable").Write(c)
			return
		}

		path := c.Request.URL.Path
		if len(path) > 3 && path[:3] == "/v1" {
			path = path[3:]
		}
		target := rc.Deployment.BaseURL + path
		if raw := c.Request.URL.RawQuery; raw != "" {
			target += "?" + raw
		}

		req, errReq := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target, nil)
		if errReq != nil {
			admission.NewError(http.StatusInternalServerError, "Service temporarily unavailable").Write(c)
			return
		}
		setUpstreamHeaders(req, rc.Deployment)

		resp, errDo := e.client.Do(req)
		if errDo != nil {
			admission.NewError(http.StatusBadGateway, "Upstream request failed").Write(c)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		body, errRead := io.ReadAll(resp.Body)
		if errRead != nil {
			admission.NewError(http.StatusBadGateway, "Upstream response unreadable").Write(c)
			return
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(resp.StatusCode, contentType, body)
	}
}
