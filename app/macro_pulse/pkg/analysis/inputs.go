package analysis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/model"
)

// ErrInputMissing 声明的输入没有可用数据，或读取了未声明的输入
var ErrInputMissing = errors.New("input missing")

// staleWeight 陈旧缓存对覆盖率的贡献
const staleWeight = 0.75

// Inputs 任务可见的只读数据视图，只包含任务声明过的请求
type Inputs struct {
	declared []string
	outcomes map[string]model.FetchOutcome
}

// NewInputs 从本次运行的全部抓取结果中截取 needs 对应的部分
func NewInputs(needs []model.DataRequest, all map[string]model.FetchOutcome) *Inputs {
	in := &Inputs{outcomes: make(map[string]model.FetchOutcome, len(needs))}
	for _, req := range needs {
		key := req.Key()
		if _, dup := in.outcomes[key]; dup {
			continue
		}
		in.declared = append(in.declared, key)
		if out, ok := all[key]; ok {
			in.outcomes[key] = out
		} else {
			in.outcomes[key] = model.FetchOutcome{Request: req, Tier: model.TierMissing}
		}
	}
	return in
}

// Has 该输入是否有数据
func (in *Inputs) Has(key string) bool {
	out, ok := in.outcomes[key]
	return ok && out.Tier.HasData()
}

// Decode 把输入解码到 v
func (in *Inputs) Decode(key string, v any) error {
	out, ok := in.outcomes[key]
	if !ok {
		return fmt.Errorf("%w: %s not declared", ErrInputMissing, key)
	}
	if !out.Tier.HasData() {
		return fmt.Errorf("%w: %s", ErrInputMissing, key)
	}
	if err := json.Unmarshal(out.Payload, v); err != nil {
		return fmt.Errorf("decode input %s failed: %w", key, err)
	}
	return nil
}

// Coverage 加权的输入覆盖率，取值 [0,1]
func (in *Inputs) Coverage() float64 {
	if len(in.declared) == 0 {
		return 1
	}
	var sum float64
	for _, key := range in.declared {
		switch in.outcomes[key].Tier {
		case model.TierCacheFresh, model.TierPrimary, model.TierSecondary:
			sum += 1
		case model.TierCacheStale:
			sum += staleWeight
		}
	}
	return sum / float64(len(in.declared))
}

// Degraded 走了陈旧缓存或缺失的输入键
func (in *Inputs) Degraded() []string {
	var out []string
	for _, key := range in.declared {
		if in.outcomes[key].Tier.Degraded() {
			out = append(out, key)
		}
	}
	return out
}
