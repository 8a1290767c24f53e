package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	orderNumberPrefix       = "BO"
	orderNumberInnerRetries = 3
	orderNumberSuffixBytes  = 4
)

// ErrOrderNumberExhausted signals that no unique order number could be minted
// within the bounded retry budget. The checkout fails without creating an
// order.
var ErrOrderNumberExhausted = errors.New("order number: generation exhausted")

// OrderNumberIndex answers collision checks against persisted orders.
type OrderNumberIndex interface {
	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)
}

// OrderNumberGeneratorDeps bundles collaborators for the generator.
type OrderNumberGeneratorDeps struct {
	Index  OrderNumberIndex
	Clock  func() time.Time
	Random func(b []byte) (int, error)
}

type orderNumberGenerator struct {
	index  OrderNumberIndex
	clock  func() time.Time
	random func(b []byte) (int, error)
}

// NewOrderNumberGenerator wires dependencies into a concrete generator.
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (OrderNumberGenerator, error) {
	if deps.Index == nil {
		return nil, errors.New("order number generator: order index is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.Read
	}

	return &orderNumberGenerator{
		index: deps.Index,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
	}, nil
}

// Generate mints a BO-YYMMDD-HHMM-MSS-RRRR number, retrying with fresh
// randomness when the candidate collides with a persisted order.
func (g *orderNumberGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderNumberInnerRetries; attempt++ {
		candidate, err := g.compose()
		if err != nil {
			return "", err
		}
		exists, err := g.index.ExistsByNumber(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("order number: collision check: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %d attempts", ErrOrderNumberExhausted, orderNumberInnerRetries)
}

func (g *orderNumberGenerator) compose() (string, error) {
	now := g.clock()
	suffix := make([]byte, orderNumberSuffixBytes)
	if _, err := g.random(suffix); err != nil {
		return "", fmt.Errorf("order number: randomness unavailable: %w", err)
	}
	return fmt.Sprintf("%s-%02d%02d%02d-%02d%02d-%03d-%s",
		orderNumberPrefix,
		now.Year()%100, int(now.Month()), now.Day(),
		now.Hour(), now.Minute(),
		now.Nanosecond()/int(time.Millisecond),
		strings.ToUpper(hex.EncodeToString(suffix)),
	), nil
}
