package deployment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/secrets"

	"github.com/shopspring/decimal"
)

// encryptedPrefix marks config keys whose values are stored encrypted.
const encryptedPrefix = "encrypted_"

// Provider families with special handling on the request path.
const (
	// ProviderFamilyPhala identifies confidential-enclave providers.
	ProviderFamilyPhala = "phala"
	// ProviderFamilyAnthropic identifies providers speaking the Messages dialect natively.
	ProviderFamilyAnthropic = "anthropic"
)

// Deployment is an immutable resolved snapshot of one upstream endpoint,
// with credentials decrypted and pricing parsed.
type Deployment struct {
	ID                 uint64            `json:"id"`
	ModelID            string            `json:"model_id"`
	Provider           string            `json:"provider"`
	DeploymentName     string            `json:"deployment_name"`
	BaseURL            string            `json:"base_url"`
	Credential         string            `json:"credential"`
	InputCostPerToken  decimal.Decimal   `json:"input_cost_per_token"`
	OutputCostPerToken decimal.Decimal   `json:"output_cost_per_token"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// IsPhala reports whether the deployment targets a confidential-enclave provider.
func (d *Deployment) IsPhala() bool {
	return d != nil && strings.HasPrefix(strings.ToLower(d.Provider), ProviderFamilyPhala)
}

// IsAnthropic reports whether the upstream speaks the Messages dialect natively.
func (d *Deployment) IsAnthropic() bool {
	return d != nil && strings.HasPrefix(strings.ToLower(d.Provider), ProviderFamilyAnthropic)
}

// parseConfig converts the stored config JSON into typed deployment fields,
// decrypting any encrypted_-prefixed values and folding them in under the
// un-prefixed key. Unknown keys land in Extra.
func parseConfig(raw []byte, cipher *secrets.Cipher, dep *Deployment) error {
	values := map[string]any{}
	if len(raw) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		if errUnmarshal := decoder.Decode(&values); errUnmarshal != nil {
			return fmt.Errorf("deployment: parse config: %w", errUnmarshal)
		}
	}

	flat := make(map[string]string, len(values))
	for key, value := range values {
		str := stringify(value)
		if strings.HasPrefix(key, encryptedPrefix) {
			if cipher == nil {
				return fmt.Errorf("deployment: config key %s requires a cipher", key)
			}
			plain, errDecrypt := cipher.Decrypt(str)
			if errDecrypt != nil {
				return fmt.Errorf("deployment: config key %s: %w", key, errDecrypt)
			}
			flat[strings.TrimPrefix(key, encryptedPrefix)] = plain
			continue
		}
		flat[key] = str
	}

	dep.Extra = map[string]string{}
	for key, value := range flat {
		switch key {
		case "base_url":
			dep.BaseURL = strings.TrimRight(value, "/")
		case "api_key":
			dep.Credential = value
		case "input_cost_per_token":
			parsed, errParse := decimal.NewFromString(value)
			if errParse != nil {
				return fmt.Errorf("deployment: input_cost_per_token: %w", errParse)
			}
			dep.InputCostPerToken = parsed
		case "output_cost_per_token":
			parsed, errParse := decimal.NewFromString(value)
			if errParse != nil {
				return fmt.Errorf("deployment: output_cost_per_token: %w", errParse)
			}
			dep.OutputCostPerToken = parsed
		default:
			dep.Extra[key] = value
		}
	}
	if len(dep.Extra) == 0 {
		dep.Extra = nil
	}
	return nil
}

// stringify renders a JSON config value as its string form.
func stringify(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return decimal.NewFromFloat(typed).String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		raw, errMarshal := json.Marshal(typed)
		if errMarshal != nil {
			return ""
		}
		return string(raw)
	}
}
