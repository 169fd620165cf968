package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/secrets"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	cacheKeyPrefix = "model-deployment:"
	// negativeSentinel caches a resolution miss.
	negativeSentinel = "__none__"

	positiveTTL = 24 * time.Hour
	negativeTTL = 5 * time.Minute
)

// invalidationPatterns are the wildcard key families cleared on invalidation.
var invalidationPatterns = []string{"models:*", "embedding-models:*", "model-deployment:*"}

// Resolver maps a model identifier or alias onto a deployment snapshot,
// read-through cached in the KV store.
type Resolver struct {
	db     *gorm.DB
	rdb    *redis.Client
	cipher *secrets.Cipher
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, rdb *redis.Client, cipher *secrets.Cipher) *Resolver {
	return &Resolver{db: db, rdb: rdb, cipher: cipher}
}

// Resolve returns the deployment serving a model or alias, or nil when no
// active deployment exists. Misses are cached briefly to stop lookup storms.
func (r *Resolver) Resolve(ctx context.Context, model string) (*Deployment, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, nil
	}

	cacheKey := cacheKeyPrefix + model
	if cached, found := r.cacheGet(ctx, cacheKey); found {
		return cached, nil
	}

	dep, errQuery := r.query(ctx, model)
	if errQuery != nil {
		return nil, errQuery
	}
	r.cacheSet(ctx, cacheKey, dep)
	return dep, nil
}

// queryRow holds the single-join resolution result.
type queryRow struct {
	ID             uint64
	ModelID        string
	ProviderName   string
	DeploymentName string
	Config         []byte
}

// query runs the one-shot SQL resolution across deployments, models, and aliases.
func (r *Resolver) query(ctx context.Context, model string) (*Deployment, error) {
	var row queryRow
	errScan := r.db.WithContext(ctx).Raw(`
		SELECT deployments.id,
		       models.model_id,
		       deployments.provider_name,
		       deployments.deployment_name,
		       deployments.config
		FROM deployments
		JOIN models ON models.id = deployments.model_id AND models.active = ?
		LEFT JOIN model_aliases ON model_aliases.model_id = models.id AND model_aliases.active = ?
		WHERE deployments.active = ? AND (models.model_id = ? OR model_aliases.alias = ?)
		LIMIT 1`,
		true, true, true, model, model,
	).Scan(&row).Error
	if errScan != nil {
		return nil, fmt.Errorf("deployment: resolve %q: %w", model, errScan)
	}
	if row.ID == 0 {
		return nil, nil
	}

	dep := &Deployment{
		ID:             row.ID,
		ModelID:        row.ModelID,
		Provider:       row.ProviderName,
		DeploymentName: row.DeploymentName,
	}
	if errParse := parseConfig(row.Config, r.cipher, dep); errParse != nil {
		return nil, errParse
	}
	return dep, nil
}

// cacheGet loads a cached snapshot. KV errors degrade to a miss.
func (r *Resolver) cacheGet(ctx context.Context, key string) (*Deployment, bool) {
	if r.rdb == nil {
		return nil, false
	}
	raw, errGet := r.rdb.Get(ctx, key).Result()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Warn("deployment: cache read failed")
		}
		return nil, false
	}
	if raw == negativeSentinel {
		return nil, true
	}
	var dep Deployment
	if errUnmarshal := json.Unmarshal([]byte(raw), &dep); errUnmarshal != nil {
		log.WithError(errUnmarshal).Warn("deployment: cache entry corrupt")
		return nil, false
	}
	return &dep, true
}

// cacheSet stores a snapshot (24h) or a negative result (5m).
func (r *Resolver) cacheSet(ctx context.Context, key string, dep *Deployment) {
	if r.rdb == nil {
		return
	}
	if dep == nil {
		if errSet := r.rdb.Set(ctx, key, negativeSentinel, negativeTTL).Err(); errSet != nil {
			log.WithError(errSet).Warn("deployment: negative cache write failed")
		}
		return
	}
	raw, errMarshal := json.Marshal(dep)
	if errMarshal != nil {
		return
	}
	if errSet := r.rdb.Set(ctx, key, raw, positiveTTL).Err(); errSet != nil {
		log.WithError(errSet).Warn("deployment: cache write failed")
	}
}

// Invalidate deletes every cached model and deployment entry by pattern.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.rdb == nil {
		return nil
	}
	for _, pattern := range invalidationPatterns {
		iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if errDel := r.rdb.Del(ctx, iter.Val()).Err(); errDel != nil {
				return fmt.Errorf("deployment: invalidate %s: %w", iter.Val(), errDel)
			}
		}
		if errIter := iter.Err(); errIter != nil {
			return fmt.Errorf("deployment: scan %s: %w", pattern, errIter)
		}
	}
	return nil
}
