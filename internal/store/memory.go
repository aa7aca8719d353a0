package store

import (
    "context"
    "errors"
    "sync"
    "time"
)

type memoryRepository struct {
    mu             sync.RWMutex
    authorizations map[string]Authorization
    cycles         map[string][]Cycle
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
    return &memoryRepository{
        authorizations: make(map[string]Authorization),
        cycles:         make(map[string][]Cycle),
    }
}

func (r *memoryRepository) Create(_ context.Context, a Authorization) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, exists := r.authorizations[a.ID]; exists {
        return errors.New("authorization exists")
    }
    r.authorizations[a.ID] = a
    return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Authorization, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    a, ok := r.authorizations[id]
    if !ok {
        return Authorization{}, ErrNotFound
    }
    return a, nil
}

func (r *memoryRepository) SaveTokens(_ context.Context, id, manageURL, accessToken string, status Status) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    a, ok := r.authorizations[id]
    if !ok {
        return ErrNotFound
    }
    a.ManageURL = manageURL
    a.AccessToken = accessToken
    if status != "" {
        a.Status = status
    }
    a.UpdatedAt = time.Now().UTC()
    r.authorizations[id] = a
    return nil
}

func (r *memoryRepository) RecordCycle(_ context.Context, c Cycle) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.authorizations[c.AuthorizationID]; !ok {
        return ErrNotFound
    }
    r.cycles[c.AuthorizationID] = append(r.cycles[c.AuthorizationID], c)
    return nil
}

func (r *memoryRepository) Cycles(_ context.Context, authorizationID string) ([]Cycle, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    out := make([]Cycle, len(r.cycles[authorizationID]))
    copy(out, r.cycles[authorizationID])
    return out, nil
}
