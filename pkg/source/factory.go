package source

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spop/grupetto/pkg/config"
)

// New creates the source selected by cfg.Source.Kind.
func New(cfg *config.Config, log logrus.FieldLogger) (Source, error) {
	switch cfg.Source.Kind {
	case config.SourceSerial:
		return NewSerial(cfg.Source.Port, cfg.Source.BaudRate, cfg.Source.BufferSize, log), nil
	case config.SourceMock:
		return NewMock(&cfg.Mock), nil
	case config.SourceDead:
		return NewDead(log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
