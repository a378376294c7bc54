package data

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/macro_pulse/app/display/internal/conf"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/config"
	"github.com/iWorld-y/macro_pulse/app/macro_pulse/pkg/storage"
)

type Data struct {
	store *storage.Storage
}

func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	if c == nil || c.Database == nil {
		return nil, nil, fmt.Errorf("data.database is required")
	}
	db := c.Database
	store, err := storage.NewStorage(config.DBConfig{
		Host:     db.Host,
		Port:     int(db.Port),
		User:     db.User,
		Password: db.Password,
		Name:     db.Name,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		store.Close()
	}
	return &Data{store: store}, cleanup, nil
}
