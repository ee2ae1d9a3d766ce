package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 项目状态常量：单一事实来源，管线位置只看这里
const (
	ProjectStatusDraft           = "draft"            // 项目已创建，未触发生成
	ProjectStatusQueued          = "queued"           // 背景生成任务已入队
	ProjectStatusGeneratingImage = "generating_image" // 第一阶段执行中
	ProjectStatusImageReady      = "image_ready"      // 人工确认关卡：等待用户批准进入动画
	ProjectStatusGeneratingVideo = "generating_video" // 第二阶段执行中
	ProjectStatusCompleted       = "completed"        // 成片已生成
	ProjectStatusFailed          = "failed"           // 重试预算耗尽
)

// validTransitions 状态图。image_ready 不会被管线自动越过，
// 只有用户动作（animate / 重新生成）能离开它。
var validTransitions = map[string][]string{
	ProjectStatusDraft:           {ProjectStatusQueued, ProjectStatusGeneratingImage},
	ProjectStatusQueued:          {ProjectStatusGeneratingImage, ProjectStatusFailed},
	ProjectStatusGeneratingImage: {ProjectStatusImageReady, ProjectStatusFailed},
	ProjectStatusImageReady:      {ProjectStatusGeneratingVideo, ProjectStatusQueued},
	ProjectStatusGeneratingVideo: {ProjectStatusCompleted, ProjectStatusFailed},
	ProjectStatusCompleted:       {},
	ProjectStatusFailed:          {ProjectStatusQueued},
}

// CanTransition from == to 视为合法（重试时阶段重入同一状态）
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Settings 项目可变设置，整体存为 JSON 列。
// 更新只能走 SettingsPatch 合并，禁止整包覆盖，避免并发丢写。
type Settings struct {
	ProductName        string     `json:"productName,omitempty"`
	Description        string     `json:"description,omitempty"`
	SellingPoints      []string   `json:"sellingPoints,omitempty"`
	AspectRatio        string     `json:"aspectRatio,omitempty"`
	MusicTheme         string     `json:"musicTheme,omitempty"`
	MainImage          string     `json:"mainImage,omitempty"` // 用户上传的产品源图 URL
	ScenePrompt        string     `json:"scenePrompt,omitempty"`
	AnimationPrompt    string     `json:"animationPrompt,omitempty"`
	TTSEnabled         bool       `json:"ttsEnabled,omitempty"`
	TTSText            string     `json:"ttsText,omitempty"`
	TTSVoice           string     `json:"ttsVoice,omitempty"`
	ActiveSceneAssetID string     `json:"activeSceneAssetId,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
	FailedAt           *time.Time `json:"failedAt,omitempty"`
}

// SettingsPatch 逐字段合并补丁；nil 字段不动原值
type SettingsPatch struct {
	ProductName        *string    `json:"productName,omitempty"`
	Description        *string    `json:"description,omitempty"`
	SellingPoints      *[]string  `json:"sellingPoints,omitempty"`
	AspectRatio        *string    `json:"aspectRatio,omitempty"`
	MusicTheme         *string    `json:"musicTheme,omitempty"`
	MainImage          *string    `json:"mainImage,omitempty"`
	ScenePrompt        *string    `json:"scenePrompt,omitempty"`
	AnimationPrompt    *string    `json:"animationPrompt,omitempty"`
	TTSEnabled         *bool      `json:"ttsEnabled,omitempty"`
	TTSText            *string    `json:"ttsText,omitempty"`
	TTSVoice           *string    `json:"ttsVoice,omitempty"`
	ActiveSceneAssetID *string    `json:"activeSceneAssetId,omitempty"`
	LastError          *string    `json:"lastError,omitempty"`
	FailedAt           *time.Time `json:"failedAt,omitempty"`
}

// Apply 把补丁合并进 Settings，未设置的键保持原值
func (s *Settings) Apply(p *SettingsPatch) {
	if p == nil {
		return
	}
	if p.ProductName != nil {
		s.ProductName = *p.ProductName
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.SellingPoints != nil {
		s.SellingPoints = append([]string(nil), (*p.SellingPoints)...)
	}
	if p.AspectRatio != nil {
		s.AspectRatio = *p.AspectRatio
	}
	if p.MusicTheme != nil {
		s.MusicTheme = *p.MusicTheme
	}
	if p.MainImage != nil {
		s.MainImage = *p.MainImage
	}
	if p.ScenePrompt != nil {
		s.ScenePrompt = *p.ScenePrompt
	}
	if p.AnimationPrompt != nil {
		s.AnimationPrompt = *p.AnimationPrompt
	}
	if p.TTSEnabled != nil {
		s.TTSEnabled = *p.TTSEnabled
	}
	if p.TTSText != nil {
		s.TTSText = *p.TTSText
	}
	if p.TTSVoice != nil {
		s.TTSVoice = *p.TTSVoice
	}
	if p.ActiveSceneAssetID != nil {
		s.ActiveSceneAssetID = *p.ActiveSceneAssetID
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	if p.FailedAt != nil {
		t := *p.FailedAt
		s.FailedAt = &t
	}
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (s *Settings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, s)
}

type Project struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID         string    `gorm:"type:varchar(64);index" json:"userId"`
	Status         string    `json:"status"`
	Settings       Settings  `gorm:"type:json" json:"settings"`
	ResultVideoURL string    `json:"resultVideoUrl"` // 成功后写入一次
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// InProgress 判断是否处于可进入 failed 的执行中状态
func (p *Project) InProgress() bool {
	switch p.Status {
	case ProjectStatusQueued, ProjectStatusGeneratingImage, ProjectStatusGeneratingVideo:
		return true
	}
	return false
}

// Clone 深拷贝，内存存储返回副本时使用
func (p *Project) Clone() *Project {
	cp := *p
	cp.Settings.SellingPoints = append([]string(nil), p.Settings.SellingPoints...)
	if p.Settings.FailedAt != nil {
		t := *p.Settings.FailedAt
		cp.Settings.FailedAt = &t
	}
	return &cp
}
