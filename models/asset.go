package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 资产类型：一次生成产物一条记录，只追加不修改
const (
	AssetTypeScene         = "scene_image"    // 背景合成后的场景图
	AssetTypeUpscaled      = "upscaled_image" // 超分后的场景图
	AssetTypeVideoFragment = "video_fragment" // 图生视频的动画片段
	AssetTypeSpeech        = "speech_audio"   // TTS 旁白音频
	AssetTypeCleanPhoto    = "clean_photo"    // 用户原始产品图
)

// AssetMeta 生成溯源信息（prompt、voice、尺寸等），JSON 列
type AssetMeta map[string]interface{}

func (m AssetMeta) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(AssetMeta{})
	}
	return json.Marshal(m)
}

func (m *AssetMeta) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, m)
}

// Asset 一次生成产物的不可变记录。历史是追加式的：同一项目可以
// 存在多张候选场景图，当前使用哪张由 settings.activeSceneAssetId 指定。
type Asset struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID  string    `gorm:"type:varchar(64);index" json:"projectId"`
	Type       string    `gorm:"type:varchar(32);index" json:"type"`
	Provider   string    `gorm:"type:varchar(64)" json:"provider"`
	StorageURL string    `json:"storageUrl"`
	Meta       AssetMeta `gorm:"type:json" json:"meta"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Asset) TableName() string {
	return "asset"
}
