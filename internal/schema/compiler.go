package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiler compiles JSON schemas once and keeps them in an expiring LRU
type Compiler struct {
	mu    sync.Mutex
	draft *js.Draft
	cache *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int, ttl time.Duration) *Compiler {
	return &Compiler{
		draft: js.Draft2020,
		cache: expirable.NewLRU[string, *js.Schema](maxSize, nil, ttl),
	}
}

func key(schema []byte) string {
	sum := sha256.Sum256(schema)
	return hex.EncodeToString(sum[:])
}

// Prepare compiles and caches a schema
func (c *Compiler) Prepare(ctx context.Context, schema []byte) (*js.Schema, error) {
	k := key(schema)
	if compiled, ok := c.cache.Get(k); ok {
		return compiled, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if compiled, ok := c.cache.Get(k); ok {
		return compiled, nil
	}

	// A fresh compiler per schema; resources cannot be re-added after eviction.
	compiler := js.NewCompiler()
	compiler.Draft = c.draft
	resourceURL := fmt.Sprintf("mem://schema/%s.json", k[:16])
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(k, compiled)
	return compiled, nil
}

// Validate validates a JSON document against a schema
func (c *Compiler) Validate(ctx context.Context, schema []byte, value json.RawMessage) error {
	compiled, err := c.Prepare(ctx, schema)
	if err != nil {
		return err
	}

	var valueRaw interface{}
	if err := json.Unmarshal(value, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Len reports how many compiled schemas are cached.
func (c *Compiler) Len() int {
	return c.cache.Len()
}
