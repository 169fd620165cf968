package deployment

import (
	"context"
	"testing"

	"github.com/modelrelay/modelrelay/internal/db"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/secrets"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestResolver(t *testing.T) (*Resolver, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cipher, errCipher := secrets.NewCipher(testSecret)
	if errCipher != nil {
		t.Fatalf("new cipher: %v", errCipher)
	}
	return NewResolver(conn, rdb, cipher), conn, mr
}

func seedDeployment(t *testing.T, conn *gorm.DB, modelID, alias, provider string, config string) *models.Deployment {
	t.Helper()
	model := models.Model{ModelID: modelID, Name: modelID, Active: true}
	if errCreate := conn.Create(&model).Error; errCreate != nil {
		t.Fatalf("create model: %v", errCreate)
	}
	dep := models.Deployment{
		ModelID:        model.ID,
		ProviderName:   provider,
		DeploymentName: modelID + "-deploy",
		Config:         datatypes.JSON(config),
		Active:         true,
	}
	if errCreate := conn.Create(&dep).Error; errCreate != nil {
		t.Fatalf("create deployment: %v", errCreate)
	}
	if alias != "" {
		row := models.ModelAlias{ModelID: model.ID, Alias: alias, Active: true}
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			t.Fatalf("create alias: %v", errCreate)
		}
	}
	return &dep
}

func TestResolveByModelAndAlias(t *testing.T) {
	resolver, conn, _ := newTestResolver(t)
	seeded := seedDeployment(t, conn, "gpt-x", "gpt-alias", "openrouter",
		`{"base_url":"https://up.example/v1","api_key":"sk-1","input_cost_per_token":"0.000001","output_cost_per_token":"0.000002"}`)

	ctx := context.Background()
	for _, name := range []string{"gpt-x", "gpt-alias"} {
		dep, errResolve := resolver.Resolve(ctx, name)
		if errResolve != nil {
			t.Fatalf("resolve %q: %v", name, errResolve)
		}
		if dep == nil || dep.ID != seeded.ID {
			t.Fatalf("resolve %q returned %+v", name, dep)
		}
		if dep.BaseURL != "https://up.example/v1" || dep.Credential != "sk-1" {
			t.Fatalf("config not parsed: %+v", dep)
		}
		if dep.InputCostPerToken.String() != "0.000001" {
			t.Fatalf("pricing not parsed: %+v", dep)
		}
	}
}

func TestResolveDecryptsEncryptedConfig(t *testing.T) {
	resolver, conn, _ := newTestResolver(t)
	cipher, _ := secrets.NewCipher(testSecret)
	sealed, errEncrypt := cipher.Encrypt("sk-secret")
	if errEncrypt != nil {
		t.Fatalf("encrypt: %v", errEncrypt)
	}
	seedDeployment(t, conn, "m-enc", "", "openai",
		`{"base_url":"https://u.example","encrypted_api_key":"`+sealed+`"}`)

	dep, errResolve := resolver.Resolve(context.Background(), "m-enc")
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if dep.Credential != "sk-secret" {
		t.Fatalf("encrypted_api_key must decrypt into credential, got %q", dep.Credential)
	}
	if _, leaked := dep.Extra["encrypted_api_key"]; leaked {
		t.Fatalf("prefixed key must not survive: %+v", dep.Extra)
	}
}

func TestResolveCachesPositiveResult(t *testing.T) {
	resolver, conn, _ := newTestResolver(t)
	seeded := seedDeployment(t, conn, "m-cache", "", "openai", `{"base_url":"https://u.example","api_key":"k"}`)

	ctx := context.Background()
	if _, errResolve := resolver.Resolve(ctx, "m-cache"); errResolve != nil {
		t.Fatalf("first resolve: %v", errResolve)
	}

	// Deactivate the row; the snapshot must keep serving from cache.
	if errUpdate := conn.Model(&models.Deployment{}).Where("id = ?", seeded.ID).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("deactivate: %v", errUpdate)
	}
	dep, errResolve := resolver.Resolve(ctx, "m-cache")
	if errResolve != nil {
		t.Fatalf("cached resolve: %v", errResolve)
	}
	if dep == nil || dep.ID != seeded.ID {
		t.Fatalf("expected cached snapshot, got %+v", dep)
	}
}

func TestResolveCachesNegativeResult(t *testing.T) {
	resolver, conn, mr := newTestResolver(t)
	ctx := context.Background()

	dep, errResolve := resolver.Resolve(ctx, "ghost")
	if errResolve != nil || dep != nil {
		t.Fatalf("expected miss, got %+v err=%v", dep, errResolve)
	}
	if stored, errGet := mr.Get(cacheKeyPrefix + "ghost"); errGet != nil || stored != negativeSentinel {
		t.Fatalf("negative result must be cached, got %q err=%v", stored, errGet)
	}

	// Creating the deployment does not bypass the negative cache.
	seedDeployment(t, conn, "ghost", "", "openai", `{"base_url":"https://u.example","api_key":"k"}`)
	dep, errResolve = resolver.Resolve(ctx, "ghost")
	if errResolve != nil || dep != nil {
		t.Fatalf("negative cache should still answer, got %+v", dep)
	}

	// Until the pattern invalidation clears it.
	if errInvalidate := resolver.Invalidate(ctx); errInvalidate != nil {
		t.Fatalf("invalidate: %v", errInvalidate)
	}
	dep, errResolve = resolver.Resolve(ctx, "ghost")
	if errResolve != nil || dep == nil {
		t.Fatalf("post-invalidation resolve failed: %+v err=%v", dep, errResolve)
	}
}

func TestResolveSurvivesKVOutage(t *testing.T) {
	resolver, conn, mr := newTestResolver(t)
	seedDeployment(t, conn, "m-direct", "", "openai", `{"base_url":"https://u.example","api_key":"k"}`)
	mr.Close()

	dep, errResolve := resolver.Resolve(context.Background(), "m-direct")
	if errResolve != nil || dep == nil {
		t.Fatalf("resolver must fall through to SQL on KV outage: %+v err=%v", dep, errResolve)
	}
}
