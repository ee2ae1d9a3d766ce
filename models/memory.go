package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存实现：本地开发（mysql dsn 为空）和测试使用。
// 与 GormStore 共用 applyUpdate，保证流转语义一致。
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	assets   map[string]*Asset
	seqs     map[string]int64 // 资产插入顺序，同一时刻创建时用于稳定排序
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		assets:   make(map[string]*Asset),
		seqs:     make(map[string]int64),
	}
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) AtomicUpdate(ctx context.Context, id string, up UpdateSpec) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := applyUpdate(p, up); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	// 资产随项目级联删除
	for aid, a := range s.assets {
		if a.ProjectID == id {
			delete(s.assets, aid)
			delete(s.seqs, aid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateAsset(ctx context.Context, a *Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.seq++
	s.seqs[a.ID] = s.seq
	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindAssets(ctx context.Context, projectID, assetType string) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Asset
	for _, a := range s.assets {
		if a.ProjectID != projectID {
			continue
		}
		if assetType != "" && a.Type != assetType {
			continue
		}
		out = append(out, *a)
	}
	// 创建时间倒序，同刻按插入序倒排
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.seqs[out[i].ID] > s.seqs[out[j].ID]
	})
	return out, nil
}
