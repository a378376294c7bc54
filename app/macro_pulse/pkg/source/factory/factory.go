package factory

import (
	"fmt"

	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fedpress"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fetch"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/fred"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/polymarket"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/source"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/stooq"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/yahoo"
)

// NewRoutes 根据配置为每个数据源类别创建主备数据源
func NewRoutes(cfg *config.Config) (map[string]fetch.Route, error) {
	b := &builder{cfg: cfg}
	routes := make(map[string]fetch.Route, len(cfg.Sources))
	for key, src := range cfg.Sources {
		primary, err := b.adapter(key, src.Primary)
		if err != nil {
			return nil, err
		}
		route := fetch.Route{TTL: src.TTL, Primary: primary}
		if src.Secondary != "" {
			secondary, err := b.adapter(key, src.Secondary)
			if err != nil {
				return nil, err
			}
			route.Secondary = secondary
		}
		routes[key] = route
	}
	return routes, nil
}

// builder 同一提供方在不同数据源类别间共享客户端
type builder struct {
	cfg   *config.Config
	fred  *fred.Client
	yahoo *yahoo.Client
}

func (b *builder) fredClient() *fred.Client {
	if b.fred == nil {
		b.fred = fred.NewClient(b.cfg.Providers.FRED)
	}
	return b.fred
}

func (b *builder) yahooClient() *yahoo.Client {
	if b.yahoo == nil {
		b.yahoo = yahoo.NewClient(b.cfg.Providers.Yahoo)
	}
	return b.yahoo
}

func (b *builder) adapter(sourceKey, name string) (source.Adapter, error) {
	switch name {
	case "fred":
		return b.fredClient(), nil
	case "fred_yield":
		return fred.NewYieldAdapter(b.fredClient()), nil
	case "yahoo":
		switch sourceKey {
		case config.SourceTreasury:
			return yahoo.NewTreasuryAdapter(b.yahooClient()), nil
		case config.SourceMarket:
			return yahoo.NewPriceAdapter(b.yahooClient()), nil
		}
	case "stooq":
		return stooq.NewClient(b.cfg.Providers.Stooq, b.cfg.Tasks.CorrelationDays), nil
	case "polymarket":
		return polymarket.NewClient(b.cfg.Providers.Polymarket), nil
	case "fedpress":
		return fedpress.NewClient(b.cfg.Providers.FedPress), nil
	default:
		return nil, fmt.Errorf("unknown source adapter: %s", name)
	}
	return nil, fmt.Errorf("adapter %s does not serve source %s", name, sourceKey)
}
