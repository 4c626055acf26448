package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// MemoryLocalStorage is a process-local LocalStorage
type MemoryLocalStorage struct {
	mu       sync.RWMutex
	items    map[string]string
	failures map[string]error
}

// NewMemoryLocalStorage creates an empty in-memory local storage
func NewMemoryLocalStorage() *MemoryLocalStorage {
	return &MemoryLocalStorage{
		items:    map[string]string{},
		failures: map[string]error{},
	}
}

// FailKey makes reads and writes of key fail until cleared with a nil err
func (s *MemoryLocalStorage) FailKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

func (s *MemoryLocalStorage) failure(key string) error {
	if err, ok := s.failures[key]; ok {
		return apperrors.NewStoreUnavailableError("local storage "+key, err)
	}
	return nil
}

// GetItem retrieves a value
func (s *MemoryLocalStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(key); err != nil {
		return "", false, err
	}
	v, ok := s.items[key]
	return v, ok, nil
}

// SetItem stores a value
func (s *MemoryLocalStorage) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(key); err != nil {
		return err
	}
	s.items[key] = value
	return nil
}

// RemoveItem deletes a value
func (s *MemoryLocalStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(key); err != nil {
		return err
	}
	delete(s.items, key)
	return nil
}

// GetItems returns the present values among keys
func (s *MemoryLocalStorage) GetItems(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if err := s.failure(k); err != nil {
			return nil, err
		}
		if v, ok := s.items[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Keys lists keys with prefix in sorted order
func (s *MemoryLocalStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
