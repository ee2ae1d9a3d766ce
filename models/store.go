package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdateSpec 一次原子更新：状态流转与 settings 补丁同写同读，
// 不允许出现新状态配旧 settings 的中间观测。
type UpdateSpec struct {
	// ExpectFrom 非空时校验当前状态必须在集合内，否则 StateConflictError
	ExpectFrom []string
	// Status 为空表示保持当前状态（纯 settings 合并）
	Status string
	Patch  *SettingsPatch
	// ResultVideoURL 仅在 completed 流转时设置一次
	ResultVideoURL *string
}

// Store 编排器依赖的持久化接口；生产用 GormStore，测试/本地用 MemoryStore
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	AtomicUpdate(ctx context.Context, id string, up UpdateSpec) (*Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	// FindAssets 按创建时间倒序返回指定类型的资产；type 为空返回全部
	FindAssets(ctx context.Context, projectID, assetType string) ([]Asset, error)
}

// applyUpdate 两个 Store 实现共用的流转校验与合并逻辑，
// 调用方负责持有行锁 / 内存锁。
func applyUpdate(p *Project, up UpdateSpec) error {
	if len(up.ExpectFrom) > 0 {
		ok := false
		for _, s := range up.ExpectFrom {
			if p.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return &StateConflictError{ProjectID: p.ID, Current: p.Status, Expected: up.ExpectFrom}
		}
	}
	if up.Status != "" && !CanTransition(p.Status, up.Status) {
		return &StateConflictError{ProjectID: p.ID, Current: p.Status, Expected: []string{up.Status}}
	}
	p.Settings.Apply(up.Patch)
	if up.Status != "" {
		p.Status = up.Status
	}
	if up.ResultVideoURL != nil {
		p.ResultVideoURL = *up.ResultVideoURL
	}
	p.UpdatedAt = time.Now()
	return nil
}

// GormStore MySQL 实现；原子更新用行锁事务保证状态与 settings 同写
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) AtomicUpdate(ctx context.Context, id string, up UpdateSpec) (*Project, error) {
	var out *Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := applyUpdate(&p, up); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":     p.Status,
			"settings":   p.Settings,
			"updated_at": p.UpdatedAt,
		}
		if up.ResultVideoURL != nil {
			updates["result_video_url"] = p.ResultVideoURL
		}
		if err := tx.Model(&Project{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Asset{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Project{}, "id = ?", id).Error
	})
}

func (s *GormStore) CreateAsset(ctx context.Context, a *Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) FindAssets(ctx context.Context, projectID, assetType string) ([]Asset, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if assetType != "" {
		q = q.Where("type = ?", assetType)
	}
	var assets []Asset
	if err := q.Order("created_at DESC").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}
