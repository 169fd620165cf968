// Package usage harvests token counts from proxied responses and carries
// them into the spend pipeline.
package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one metered request, produced by the extractor, queued in the
// spend queue, and settled by the worker. Pricing is snapshotted at
// admission time so later price changes never affect in-flight records.
type Record struct {
	Time       int64  `msgpack:"time"` // Unix milliseconds.
	Endpoint   string `msgpack:"endpoint"`
	Status     int    `msgpack:"status"`
	DurationMS int64  `msgpack:"duration_ms"`

	InputTokens  int64 `msgpack:"input_tokens"`
	OutputTokens int64 `msgpack:"output_tokens"`

	AccountID    uint64 `msgpack:"account_id"` // Zero for anonymous and public requests.
	KeyID        uint64 `msgpack:"key_id"`     // Zero when no key admitted the request.
	DeploymentID uint64 `msgpack:"deployment_id"`

	Provider string `msgpack:"provider"`
	Model    string `msgpack:"model"`

	InputCostPerToken  string `msgpack:"input_cost_per_token"`  // Decimal string.
	OutputCostPerToken string `msgpack:"output_cost_per_token"` // Decimal string.

	SpendMode string `msgpack:"spend_mode"`
}

// Cost returns the record's settled cost using arbitrary-precision decimals.
func (r *Record) Cost() decimal.Decimal {
	inRate, errIn := decimal.NewFromString(r.InputCostPerToken)
	if errIn != nil {
		inRate = decimal.Zero
	}
	outRate, errOut := decimal.NewFromString(r.OutputCostPerToken)
	if errOut != nil {
		outRate = decimal.Zero
	}
	return decimal.NewFromInt(r.InputTokens).Mul(inRate).
		Add(decimal.NewFromInt(r.OutputTokens).Mul(outRate))
}

// Timestamp returns the record time as a time.Time.
func (r *Record) Timestamp() time.Time {
	return time.UnixMilli(r.Time).UTC()
}
