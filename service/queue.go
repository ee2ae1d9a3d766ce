package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"AdForge-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateBackground = "background:generate" // 第一阶段：场景图生成
	TypeAnimateImage       = "image:animate"       // 第二阶段：动画 + 成片合成
)

// JobPayload 只携带项目 id。所有可变状态在任务开始时重新读库，
// 避免入队时刻与执行时刻之间的脏数据。
type JobPayload struct {
	ProjectID string `json:"project_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueGenerateBackground 背景生成任务入队
func EnqueueGenerateBackground(projectID string) error {
	return enqueue(TypeGenerateBackground, projectID, 10*time.Minute)
}

// EnqueueAnimateImage 动画任务入队（仅在用户批准 image_ready 后由 API 调用）
func EnqueueAnimateImage(projectID string) error {
	return enqueue(TypeAnimateImage, projectID, 30*time.Minute)
}

func enqueue(taskType, projectID string, timeout time.Duration) error {
	payload, err := json.Marshal(JobPayload{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	// MaxRetry 是首次执行之外的重投次数：总预算 N 次尝试对应 N-1 次重投
	task := asynq.NewTask(taskType, payload,
		asynq.MaxRetry(config.AppConfig.Pipeline.MaxAttempts-1),
		asynq.Timeout(timeout), // 生成较慢，设置较长超时
		asynq.Retention(24*time.Hour),
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: type=%s, project=%s, id=%s", taskType, projectID, info.ID)
	return nil
}
