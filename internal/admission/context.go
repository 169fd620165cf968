package admission

import (
	"time"

	"github.com/modelrelay/modelrelay/internal/deployment"
	"github.com/modelrelay/modelrelay/internal/models"

	"github.com/gin-gonic/gin"
)

// SpendMode tags a request with the budget counters its settlement affects.
type SpendMode string

// Spend modes.
const (
	// SpendModeRegular settles against account and key budgets.
	SpendModeRegular SpendMode = "regular"
	// SpendModeSubscription settles against the key budget only.
	SpendModeSubscription SpendMode = "subscription"
	// SpendModeSubscriptionOverflow settles like regular once the
	// subscription quota is spent and account credits remain.
	SpendModeSubscriptionOverflow SpendMode = "subscription_overflow"
)

// contextKey stores the RequestContext in the gin context.
const contextKey = "requestContext"

// RequestContext carries the admitted identity and routing decision for one
// request. It owns its Account and Key references for the request lifetime;
// the Deployment is a shared immutable snapshot.
type RequestContext struct {
	Account *models.Account
	Key     *models.APIKey

	Deployment     *deployment.Deployment
	RequestedModel string

	SpendMode SpendMode

	// RequestHash is the hex SHA-256 of the raw body, set only for POSTs to
	// confidential-enclave deployments; downstream signature endpoints key
	// off it.
	RequestHash string

	StartedAt time.Time
}

// Authenticated reports whether an API key admitted this request.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Key != nil
}

// FromGin returns the RequestContext set by the admission middleware.
func FromGin(c *gin.Context) *RequestContext {
	v, exists := c.Get(contextKey)
	if !exists {
		return nil
	}
	rc, ok := v.(*RequestContext)
	if !ok {
		return nil
	}
	return rc
}

// SetContext stores a RequestContext on the gin context.
func SetContext(c *gin.Context, rc *RequestContext) {
	c.Set(contextKey, rc)
}
