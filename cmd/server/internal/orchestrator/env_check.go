package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/houzhh15/scribeflow/cmd/server/internal/capability"
)

// EnvironmentStatus 表示整体环境状态
type EnvironmentStatus struct {
	Ready    bool               `json:"ready"`
	Issues   []string           `json:"issues"`
	Warnings []string           `json:"warnings"`
	Details  EnvironmentDetails `json:"details"`
}

// EnvironmentDetails 包含各组件的详细状态
type EnvironmentDetails struct {
	Transcriber  ServiceStatus `json:"transcriber"`
	Dependencies ToolStatus    `json:"dependencies"`
	ScratchDir   DirStatus     `json:"scratch_dir"`
	GateOpen     bool          `json:"gate_open"`
}

// ServiceStatus 表示外部服务状态
type ServiceStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Checked   bool   `json:"checked"`
	Latency   string `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolStatus 表示 ffmpeg 等外部工具状态
type ToolStatus struct {
	Configured bool   `json:"configured"`
	Available  bool   `json:"available"`
	Mode       string `json:"mode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DirStatus 表示临时目录状态
type DirStatus struct {
	Path     string `json:"path"`
	Writable bool   `json:"writable"`
	Error    string `json:"error,omitempty"`
}

// CheckEnvironment 执行完整的环境检查
func (o *Orchestrator) CheckEnvironment(ctx context.Context) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:    true,
		Issues:   []string{},
		Warnings: []string{},
	}

	// 1. 转写服务
	if mt, ok := o.caps.Transcriber.(capability.MonitoredTranscriber); ok {
		svc := checkTranscriber(ctx, mt)
		status.Details.Transcriber = svc
		if !svc.Reachable {
			status.Ready = false
			status.Issues = append(status.Issues, fmt.Sprintf("转写服务不可达 (%s): %s", svc.Name, svc.Error))
		}
	} else {
		status.Warnings = append(status.Warnings, "转写服务不支持健康检查")
	}

	// 2. ffmpeg（仅非 WAV 输入和 ffmpeg 静音检测需要）
	if o.converter != nil {
		tool := ToolStatus{Configured: true, Mode: string(o.converter.Config().Mode)}
		if err := o.converter.HealthCheck(ctx); err != nil {
			tool.Error = err.Error()
			status.Warnings = append(status.Warnings, fmt.Sprintf("ffmpeg 不可用，仅支持 WAV 输入: %v", err))
		} else {
			tool.Available = true
		}
		status.Details.Dependencies = tool
	}

	// 3. 临时目录
	if o.cfg.MaterializeChunks {
		dir := checkScratchDir(o.cfg.ScratchDir)
		status.Details.ScratchDir = dir
		if !dir.Writable {
			status.Ready = false
			status.Issues = append(status.Issues, fmt.Sprintf("临时目录不可写: %s", dir.Error))
		}
	}

	// 4. 就绪门
	status.Details.GateOpen = o.gate.Ready()
	if !status.Details.GateOpen {
		status.Ready = false
		status.Issues = append(status.Issues, "流水线尚未就绪")
	}
	return status
}

// checkTranscriber 检查转写服务健康状态
func checkTranscriber(ctx context.Context, t capability.MonitoredTranscriber) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	healthy, err := t.HealthCheck(ctx)
	status := ServiceStatus{Name: t.Name(), Checked: true, Reachable: healthy && err == nil}
	if err != nil {
		status.Error = err.Error()
	} else if !healthy {
		status.Error = "unhealthy"
	} else {
		status.Latency = fmt.Sprintf("%dms", time.Since(start).Milliseconds())
	}
	return status
}

// checkScratchDir 通过创建临时文件确认目录可写
func checkScratchDir(dir string) DirStatus {
	if dir == "" {
		dir = os.TempDir()
	}
	status := DirStatus{Path: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		status.Error = err.Error()
		return status
	}
	f, err := os.CreateTemp(dir, ".scribeflow-probe-*")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	status.Writable = true
	return status
}
