package admission

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/deployment"
	"github.com/modelrelay/modelrelay/internal/keystore"
	"github.com/modelrelay/modelrelay/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// publicPathPrefixes are admitted without authentication or budget checks.
var publicPathPrefixes = []string{"/v1/attestation/report", "/v1/signature/"}

// Controller classifies callers, checks budgets, and produces the
// RequestContext consumed by the proxy engine.
type Controller struct {
	keys     *keystore.Store
	resolver *deployment.Resolver
	cfg      *config.Config
}

// NewController constructs a Controller.
func NewController(keys *keystore.Store, resolver *deployment.Resolver, cfg *config.Config) *Controller {
	return &Controller{keys: keys, resolver: resolver, cfg: cfg}
}

// Middleware admits or rejects the request and stores the RequestContext.
func (ctl *Controller) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, errAdmit := ctl.admit(c)
		if errAdmit != nil {
			var admissionErr *Error
			if errors.As(errAdmit, &admissionErr) {
				admissionErr.Write(c)
				return
			}
			log.WithError(errAdmit).Error("admission: unexpected failure")
			NewError(http.StatusInternalServerError, "Service temporarily unavailable").Write(c)
			return
		}
		SetContext(c, rc)
		c.Next()
	}
}

// admit implements the classification contract: public endpoint, then
// authenticated (subscription or regular), then anonymous free-list.
func (ctl *Controller) admit(c *gin.Context) (*RequestContext, error) {
	rc := &RequestContext{StartedAt: time.Now().UTC()}

	body, errBody := readAndRestoreBody(c)
	if errBody != nil {
		return nil, fmt.Errorf("admission: read body: %w", errBody)
	}

	model := extractModel(c, body)
	if model == "" {
		return nil, NewError(http.StatusBadRequest, "Model parameter is required")
	}
	rc.RequestedModel = model

	token := bearerToken(c.Request)

	switch {
	case isPublicPath(c.Request.URL.Path):
		// Public endpoints skip identity and budget checks entirely.
	case token != "":
		key, account, errResolve := ctl.keys.Resolve(c.Request.Context(), token)
		if errResolve != nil {
			if errors.Is(errResolve, keystore.ErrInvalidKey) {
				return nil, NewError(http.StatusUnauthorized, "Invalid API key provided")
			}
			return nil, errResolve
		}
		rc.Key = key
		rc.Account = account
		if errBudget := classifySpend(rc); errBudget != nil {
			return nil, errBudget
		}
		log.WithFields(log.Fields{
			"key":   util.HideAPIKey(token),
			"model": model,
		}).Debug("admission: authenticated request")
	default:
		if !ctl.cfg.IsFreeModel(model) {
			return nil, NewError(http.StatusForbidden, "This model requires an API key")
		}
		rc.SpendMode = SpendModeRegular
	}

	dep, errDep := ctl.resolver.Resolve(c.Request.Context(), model)
	if errDep != nil {
		return nil, errDep
	}
	if dep == nil {
		return nil, NewError(http.StatusNotFound, fmt.Sprintf("Model '%s' is not available", model))
	}
	rc.Deployment = dep

	if dep.IsPhala() && c.Request.Method == http.MethodPost {
		sum := sha256.Sum256(body)
		rc.RequestHash = hex.EncodeToString(sum[:])
	}

	return rc, nil
}

// classifySpend applies the budget contracts for authenticated keys and
// stamps the spend mode.
func classifySpend(rc *RequestContext) error {
	key := rc.Key
	account := rc.Account

	if key.IsSubscription() {
		switch {
		case key.BudgetLimit != nil && key.BudgetUsed.LessThan(*key.BudgetLimit):
			rc.SpendMode = SpendModeSubscription
		case account.Credits.GreaterThan(decimal.Zero):
			rc.SpendMode = SpendModeSubscriptionOverflow
		default:
			return NewError(http.StatusPaymentRequired, "Subscription quota exceeded")
		}
		return nil
	}

	if account.OverBudget() {
		return NewError(http.StatusPaymentRequired, "Account quota exceeded. Please add credits to continue.")
	}
	if key.OverBudget() {
		return NewError(http.StatusPaymentRequired, "API key quota exceeded")
	}
	rc.SpendMode = SpendModeRegular
	return nil
}

// extractModel pulls the model name from the JSON body for POSTs and from
// the query string otherwise.
func extractModel(c *gin.Context, body []byte) string {
	if c.Request.Method == http.MethodPost {
		return strings.TrimSpace(gjson.GetBytes(body, "model").String())
	}
	return strings.TrimSpace(c.Query("model"))
}

// readAndRestoreBody consumes the request body and replaces it so the proxy
// can stream it upstream.
func readAndRestoreBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Method != http.MethodPost {
		return nil, nil
	}
	body, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		return nil, errRead
	}
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// bearerToken extracts the Authorization bearer token, if present.
func bearerToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	if value == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix))
}

// isPublicPath reports whether the path is admitted without credentials.
func isPublicPath(path string) bool {
	for _, prefix := range publicPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
