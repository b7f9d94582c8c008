package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonwraymond/memocache/observe"
)

// logAdapter routes badger's printf-style log calls to an observe.Logger.
type logAdapter struct {
	l observe.Logger
}

var _ badger.Logger = logAdapter{}

func (a logAdapter) msg(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (a logAdapter) Errorf(format string, args ...any) {
	a.l.Error(context.Background(), a.msg(format, args), observe.Field{Key: "component", Value: "badger"})
}

func (a logAdapter) Warningf(format string, args ...any) {
	a.l.Warn(context.Background(), a.msg(format, args), observe.Field{Key: "component", Value: "badger"})
}

func (a logAdapter) Infof(format string, args ...any) {
	a.l.Debug(context.Background(), a.msg(format, args), observe.Field{Key: "component", Value: "badger"})
}

func (a logAdapter) Debugf(format string, args ...any) {
	a.l.Debug(context.Background(), a.msg(format, args), observe.Field{Key: "component", Value: "badger"})
}
