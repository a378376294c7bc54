package render

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// Terminal 在终端输出带样式的报告
type Terminal struct {
	out   io.Writer
	style string
	width int
}

// NewTerminal 创建终端输出端，style 为空时自动选择明暗主题
func NewTerminal(out io.Writer, style string, width int) *Terminal {
	if width <= 0 {
		width = 100
	}
	return &Terminal{out: out, style: style, width: width}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Publish(_ context.Context, r *model.FinalReport) error {
	md, err := Markdown(r)
	if err != nil {
		return err
	}

	styleOpt := glamour.WithAutoStyle()
	if t.style != "" {
		styleOpt = glamour.WithStylePath(t.style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(t.width))
	if err != nil {
		return fmt.Errorf("create terminal renderer failed: %w", err)
	}
	out, err := renderer.Render(string(md))
	if err != nil {
		return fmt.Errorf("render terminal output failed: %w", err)
	}
	_, err = io.WriteString(t.out, out)
	return err
}
