// Package kv is the static/query cache used for reference data (items,
// spells, maps, mounts, map properties, worlds). Values are opaque byte
// slices, normally JSON, so callers never share references with the store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a key or field does not exist.
var ErrNotFound = errors.New("kv: not found")

// Namespaces used by the server.
const (
	KeyItems         = "items"
	KeySpells        = "spells"
	KeyMounts        = "mounts"
	KeyMaps          = "maps"
	KeyMapProperties = "mapProperties"
	KeyWorlds        = "worlds"
)

// Store is the external key/value cache collaborator.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	GetNested(ctx context.Context, key, field string) ([]byte, error)
	SetNested(ctx context.Context, key, field string, value []byte) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	nested map[string]map[string][]byte
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		nested: make(map[string]map[string][]byte),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = clone(value)
	return nil
}

func (m *Memory) GetNested(ctx context.Context, key, field string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.nested[key][field]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) SetNested(ctx context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.nested[key]
	if !ok {
		h = make(map[string][]byte)
		m.nested[key] = h
	}
	h[field] = clone(value)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// GetNestedJSON loads key/field and decodes it into v.
func GetNestedJSON(ctx context.Context, s Store, key, field string, v any) error {
	raw, err := s.GetNested(ctx, key, field)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", key, field, err)
	}
	return nil
}

// SetNestedJSON encodes v and stores it under key/field.
func SetNestedJSON(ctx context.Context, s Store, key, field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", key, field, err)
	}
	return s.SetNested(ctx, key, field, raw)
}
