// Package proxy opens upstream connections for admitted requests and pipes
// bodies through the dialect and usage transforms.
package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/deployment"
	"github.com/modelrelay/modelrelay/internal/spend"
	"github.com/modelrelay/modelrelay/internal/usage"

	log "github.com/sirupsen/logrus"
)

// Function identifies the caller-facing operation being proxied.
type Function string

// Proxy functions.
const (
	FunctionChatCompletions Function = "chat_completions"
	FunctionCompletions     Function = "completions"
	FunctionEmbeddings      Function = "embeddings"
	FunctionMessages        Function = "messages"
)

// Engine proxies requests to the selected deployment.
type Engine struct {
	client *http.Client
	queue  *spend.Queue
}

// NewEngine constructs an Engine. The timeout bounds the total duration of
// an upstream call, including streaming the response.
func NewEngine(queue *spend.Queue, timeout time.Duration) *Engine {
	return &Engine{
		client: &http.Client{Timeout: timeout},
		queue:  queue,
	}
}

// upstreamPath maps a function onto the provider-side path. Messages
// requests to non-Anthropic providers are bridged onto chat completions.
func upstreamPath(function Function, dep *deployment.Deployment) (path string, bridged bool) {
	switch function {
	case FunctionChatCompletions:
		return "/chat/completions", false
	case FunctionCompletions:
		return "/completions", false
	case FunctionEmbeddings:
		return "/embeddings", false
	case FunctionMessages:
		if dep.IsAnthropic() {
			return "/messages", false
		}
		return "/chat/completions", true
	default:
		return "/" + string(function), false
	}
}

// setUpstreamHeaders applies provider credentials and dialect headers.
func setUpstreamHeaders(req *http.Request, dep *deployment.Deployment) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+dep.Credential)
	if dep.IsAnthropic() {
		req.Header.Set("x-api-key", dep.Credential)
		version := dep.Extra["anthropic_version"]
		if version == "" {
			version = "2023-06-01"
		}
		req.Header.Set("anthropic-version", version)
	}
}

// enqueueUsage hands a metered record to the spend queue, best effort. Only
// authenticated requests are charged; there is no key to charge otherwise.
func (e *Engine) enqueueUsage(rc *admission.RequestContext, endpoint string, status int, tokens usage.Tokens) {
	if rc.Key == nil || !tokens.Seen {
		return
	}
	record := &usage.Record{
		Time:               time.Now().UTC().UnixMilli(),
		Endpoint:           endpoint,
		Status:             status,
		DurationMS:         time.Since(rc.StartedAt).Milliseconds(),
		InputTokens:        tokens.Input,
		OutputTokens:       tokens.Output,
		KeyID:              rc.Key.ID,
		DeploymentID:       rc.Deployment.ID,
		Provider:           rc.Deployment.Provider,
		Model:              rc.RequestedModel,
		InputCostPerToken:  rc.Deployment.InputCostPerToken.String(),
		OutputCostPerToken: rc.Deployment.OutputCostPerToken.String(),
		SpendMode:          string(rc.SpendMode),
	}
	if rc.Account != nil {
		record.AccountID = rc.Account.ID
	}

	// Detached context: the request may already be tearing down.
	ctx, cancel := contextWithEnqueueTimeout()
	defer cancel()
	if errEnqueue := e.queue.Enqueue(ctx, record); errEnqueue != nil {
		log.WithError(errEnqueue).Warn("proxy: usage enqueue failed")
	}
}

// isSSE reports whether the upstream answered with an event stream.
func isSSE(header http.Header) bool {
	return strings.HasPrefix(header.Get("Content-Type"), "text/event-stream")
}
