package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/houzhh15/scribeflow/cmd/server/internal/dispatch"
)

// ErrorCode 表示转写任务错误类型代码
type ErrorCode string

const (
	// INPUT_INVALID 输入非法（空音频、参数越界等），立即失败
	INPUT_INVALID ErrorCode = "INPUT_INVALID"

	// AUDIO_DECODE_FAILED 音频无法解码或转换
	AUDIO_DECODE_FAILED ErrorCode = "AUDIO_DECODE_FAILED"

	// CAPABILITY_FAILED 外部能力（ASR/说话人识别等）重试耗尽或不可重试
	CAPABILITY_FAILED ErrorCode = "CAPABILITY_FAILED"

	// BATCH_FAILED 一批切片 / 片段全部失败
	BATCH_FAILED ErrorCode = "BATCH_FAILED"

	// DIARIZATION_EMPTY 说话人识别无结果（降级为普通转写，仅用于日志与指标）
	DIARIZATION_EMPTY ErrorCode = "DIARIZATION_EMPTY"

	// CONFIG_INVALID 配置校验失败
	CONFIG_INVALID ErrorCode = "CONFIG_INVALID"
)

// OrchError 表示 Orchestrator 转写错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// NewOrchError 创建新的 Orchestrator 错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// CodeOf 返回错误链中第一个 OrchError 的代码，没有则为空
func CodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// NewInputError 创建输入非法错误
func NewInputError(message string, cause error) *OrchError {
	return NewOrchError(INPUT_INVALID, message, cause)
}

// NewDecodeError 创建音频解码错误
func NewDecodeError(cause error) *OrchError {
	return NewOrchError(AUDIO_DECODE_FAILED, "音频解码失败", cause)
}

// NewCapabilityError 创建外部能力调用失败错误
func NewCapabilityError(capability string, cause error) *OrchError {
	return NewOrchError(CAPABILITY_FAILED, fmt.Sprintf("%s 调用失败", capability), cause)
}

// NewBatchError 创建整批失败错误，消息中包含尝试数量
func NewBatchError(component string, cause *dispatch.BatchError) *OrchError {
	msg := fmt.Sprintf("全部 %d 个 %s 处理失败", cause.Attempted, component)
	return NewOrchError(BATCH_FAILED, msg, cause)
}

// NewConfigError 创建配置非法错误
func NewConfigError(cause error) *OrchError {
	return NewOrchError(CONFIG_INVALID, "配置校验失败", cause)
}
