package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/querycache"
	qclogrus "github.com/unkn0wn-root/querycache/log/logrus"
	qcslog "github.com/unkn0wn-root/querycache/log/slog"
	qczap "github.com/unkn0wn-root/querycache/log/zap"
	"github.com/unkn0wn-root/querycache/internal/config"
)

// newLogger builds the configured backend writing to w. The *slog.Logger is
// non-nil only for the slog backend and feeds sloghooks.
func newLogger(cfg config.LogConfig, w io.Writer) (querycache.Logger, *slog.Logger, func(), error) {
	switch cfg.Backend {
	case "zap":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, nil, fmt.Errorf("log level: %w", err)
		}
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
		return qczap.New(zl), nil, func() { _ = zl.Sync() }, nil

	case "logrus":
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("log level: %w", err)
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		return qclogrus.New(l, "pokedex"), nil, func() {}, nil

	default:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, nil, fmt.Errorf("log level: %w", err)
		}
		sl := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
		return qcslog.New(sl), sl, func() {}, nil
	}
}
