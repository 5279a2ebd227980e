// Package schema validates API request bodies against JSON Schemas. The
// write bodies of the checklist endpoints ship embedded; compiled schemas
// are kept in an expiring LRU.
package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Names of the embedded request schemas
const (
	CreateResponse     = "create_response"
	UpdateResponse     = "update_response"
	CompleteInspection = "complete_inspection"
)

// ErrInvalid wraps every validation failure of a value
var ErrInvalid = errors.New("invalid request body")

//go:embed schemas/*.json
var builtin embed.FS

type Compiler struct {
	mu       sync.Mutex
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int) *Compiler {
	c := js.NewCompiler()
	c.Draft = js.Draft7
	c.ExtractAnnotations = true

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

// Builtin returns the raw embedded schema called name
func Builtin(name string) ([]byte, error) {
	raw, err := builtin.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	return raw, nil
}

func key(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Prepare compiles and caches a raw schema document
func (c *Compiler) Prepare(ctx context.Context, raw []byte) (*js.Schema, error) {
	k := key(raw)
	if compiled, ok := c.cache.Get(k); ok {
		return compiled, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resourceURL := fmt.Sprintf("mem://schema/%s.json", k[:16])
	if err := c.compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := c.compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(k, compiled)
	return compiled, nil
}

// Validate checks a JSON document against a raw schema document
func (c *Compiler) Validate(ctx context.Context, raw []byte, doc []byte) error {
	compiled, err := c.Prepare(ctx, raw)
	if err != nil {
		return err
	}

	var value interface{}
	if err := json.Unmarshal(doc, &value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	return nil
}

// ValidateNamed checks doc against one of the embedded schemas
func (c *Compiler) ValidateNamed(ctx context.Context, name string, doc []byte) error {
	raw, err := Builtin(name)
	if err != nil {
		return err
	}
	return c.Validate(ctx, raw, doc)
}

// describe flattens a validation error to its first leaf cause
func describe(err error) string {
	var ve *js.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
