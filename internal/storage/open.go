package storage

import (
	"fmt"
	"sort"
	"strings"

	logx "schedbot/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"":        openFile,
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted storage.driver names.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Open initializes the store cfg.Driver names.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want one of %s)", name, strings.Join(Drivers(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.Component("storage"), logx.String("driver", name)))
}
