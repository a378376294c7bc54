package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/logger"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

const markdownTpl = `# 宏观脉搏日报

> 生成时间：{{.GeneratedAt.Format "2006-01-02 15:04:05"}} · 运行 ID：{{.RunID}} · 整体置信度：{{pct .OverallConfidence}}{{if .Degraded}} · ⚠️ 降级报告{{end}}

## TL;DR

{{.Summary}}

## 重点

{{range .Highlights}}- {{.}}
{{else}}- 无
{{end}}
{{- if .Conflicts}}
## 逻辑冲突

{{range .Conflicts}}- **{{.RuleID}}**（{{join .InvolvedTasks " / "}}）：{{.Message}}
{{end}}
{{- end}}
{{- if .Advice}}
## 投资建议

{{range .Advice}}- {{.}}
{{end}}
{{- end}}
## 分项分析
{{range .Tasks}}
### {{title .TaskName}}{{if .Succeeded}}（置信度 {{pct .Confidence}}）{{else}}（失败）{{end}}

{{if .Succeeded}}{{.Summary}}
{{range .Highlights}}
- {{.}}{{end}}
{{- if .Degraded}}

_降级输入：{{join .Degraded ", "}}_
{{- end}}
{{else}}失败原因：{{.FailureReason}}
{{end}}
{{end}}
{{- if .MissingTasks}}
> 缺失分析：{{join .MissingTasks ", "}}
{{end}}
## 数据来源

| 数据 | 层级 | 错误 |
|---|---|---|
{{range .Provenance}}| {{.Key}} | {{.Tier}} | {{cell .Error}} |
{{end}}`

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":  func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"join": strings.Join,
	"cell": func(s string) string {
		if s == "" {
			return "-"
		}
		return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
	},
	"title": func(name string) string {
		if label, ok := taskTitles[name]; ok {
			return label
		}
		return name
	},
}).Parse(markdownTpl))

var taskTitles = map[string]string{
	"fed":         "货币政策",
	"econ":        "经济指标",
	"sentiment":   "预测市场情绪",
	"correlation": "资产联动",
}

// Markdown 把报告渲染为 Markdown
func Markdown(r *model.FinalReport) ([]byte, error) {
	return MarkdownRecord(model.NewReportRecord(r))
}

// MarkdownRecord 渲染已归档的报告
func MarkdownRecord(rec model.ReportRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, rec); err != nil {
		return nil, fmt.Errorf("render markdown failed: %w", err)
	}
	return buf.Bytes(), nil
}

// FileWriter 把报告写到 dir/report_<时间>.md
type FileWriter struct {
	dir string
}

// NewFileWriter 创建文件输出端
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{dir: dir}
}

func (w *FileWriter) Name() string { return "markdown" }

// Path 报告对应的文件路径
func (w *FileWriter) Path(r *model.FinalReport) string {
	return filepath.Join(w.dir, fmt.Sprintf("report_%s.md", r.GeneratedAt.Format("20060102_150405")))
}

func (w *FileWriter) Publish(_ context.Context, r *model.FinalReport) error {
	md, err := Markdown(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	path := w.Path(r)
	if err := os.WriteFile(path, md, 0o644); err != nil {
		return fmt.Errorf("write report failed: %w", err)
	}
	logger.Log.Infof("报告已写入: %s", path)
	return nil
}
