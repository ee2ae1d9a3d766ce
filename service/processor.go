package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"AdForge-server/config"
	"AdForge-server/models"

	"github.com/hibiken/asynq"
)

// Processor 消费队列任务并驱动两个阶段编排器。
// 重试感知契约在这里实现：队列只负责重投，终次判定是我们的事。
type Processor struct {
	Store      models.Store
	Background *BackgroundOrchestrator
	Animation  *AnimationOrchestrator
}

func NewProcessor(store models.Store, bg *BackgroundOrchestrator, anim *AnimationOrchestrator) *Processor {
	return &Processor{
		Store:      store,
		Background: bg,
		Animation:  anim,
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateBackground, p.HandleGenerateBackground)
	mux.HandleFunc(TypeAnimateImage, p.HandleAnimateImage)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleGenerateBackground 第一阶段任务入口
func (p *Processor) HandleGenerateBackground(ctx context.Context, t *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing %s for project %s", t.Type(), payload.ProjectID)
	runErr := p.Background.Run(ctx, payload.ProjectID)

	attempt, budget := attemptInfo(ctx)
	return p.FinishAttempt(ctx, payload.ProjectID, attempt, budget, runErr)
}

// HandleAnimateImage 第二阶段任务入口
func (p *Processor) HandleAnimateImage(ctx context.Context, t *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing %s for project %s", t.Type(), payload.ProjectID)
	runErr := p.Animation.Run(ctx, payload.ProjectID)

	attempt, budget := attemptInfo(ctx)
	return p.FinishAttempt(ctx, payload.ProjectID, attempt, budget, runErr)
}

// attemptInfo 从 asynq 上下文换算 1 起始的尝试序号与总预算
func attemptInfo(ctx context.Context) (attempt, budget int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried + 1, maxRetry + 1
}

// FinishAttempt 一次执行收尾：
//   - 成功：直接返回
//   - 非终次可重试失败：原样上抛触发重投，项目状态保持不动，下次尝试干净重入
//   - 终次失败或不可重试失败：原子落 failed 并记录 lastError/failedAt
func (p *Processor) FinishAttempt(ctx context.Context, projectID string, attempt, budget int, runErr error) error {
	if runErr == nil {
		return nil
	}

	retryable := models.IsRetryable(runErr)
	if retryable && attempt < budget {
		log.Printf("[Processor] project %s attempt %d/%d failed, will retry: %v", projectID, attempt, budget, runErr)
		return runErr
	}

	now := time.Now()
	msg := runErr.Error() // 人类可读的失败原因，不带堆栈
	if _, err := p.Store.AtomicUpdate(ctx, projectID, models.UpdateSpec{
		Status: models.ProjectStatusFailed,
		Patch: &models.SettingsPatch{
			LastError: &msg,
			FailedAt:  &now,
		},
	}); err != nil {
		// 项目可能已经到了终态（completed / 被删），不覆盖
		log.Printf("[Processor] project %s mark failed skipped: %v", projectID, err)
	} else {
		log.Printf("[Processor] project %s marked failed after attempt %d/%d: %v", projectID, attempt, budget, runErr)
	}

	if !retryable {
		return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
	}
	return runErr
}
