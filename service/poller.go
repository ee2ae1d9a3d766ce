package service

import (
	"context"
	"log"
	"time"

	"AdForge-server/models"
)

// 轮询单次观测结果
type PollState string

const (
	PollPending   PollState = "pending"
	PollCompleted PollState = "completed"
	PollFailed    PollState = "failed"
)

type CheckResult struct {
	State   PollState
	Payload string // completed 时的产物定位（一般是下载 URL）
	Reason  string // failed 时的上游原因
}

// CheckFunc 查询一次外部任务状态。返回 error 视为瞬时网络问题，
// 计入尝试次数后继续轮询。
type CheckFunc func(ctx context.Context, taskID string) (CheckResult, error)

// Poll 驱动异步外部任务到终态：
//   - completed 立即返回 payload
//   - failed 立即中止并上抛原因，不再继续
//   - 连续 pending 达到 maxAttempts 次后返回 TimeoutError
//
// 间隔等待走 timer+select 协作式挂起，不占用工作线程。
// 每次调用从零开始计数，不缓存上次的进度。
func Poll(ctx context.Context, taskID string, check CheckFunc, maxAttempts int, interval time.Duration) (string, error) {
	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := check(ctx, taskID)
		if err != nil {
			log.Printf("[Poll] task %s attempt %d/%d check error (continuing): %v", taskID, attempt, maxAttempts, err)
		} else {
			switch res.State {
			case PollCompleted:
				return res.Payload, nil
			case PollFailed:
				return "", &models.ProviderError{Provider: "animate", Err: pollFailure(res.Reason)}
			}
		}

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", &models.TimeoutError{TaskID: taskID, Attempts: maxAttempts, Elapsed: time.Since(start)}
}

type pollFailure string

func (f pollFailure) Error() string {
	if f == "" {
		return "task reported failure"
	}
	return "task reported failure: " + string(f)
}
