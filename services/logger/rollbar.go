package logsvc

import (
	"context"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
)

// RollbarLogger reports to its own rollbar client and mirrors every entry to zap.
// The client is configured once at construction; the person travels in a per-call context,
// so a logger is safe to share between goroutines.
type RollbarLogger struct {
	rb  *rollbar.Client
	std *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *zap.SugaredLogger, conf *core.Config) *RollbarLogger {
	rb := rollbar.New(conf.RollbarToken, conf.Env, conf.Build, conf.Server.Host, "")
	rb.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{rb: rb, std: std}
}

// NewZapLogger returns the sugared zap logger used as the local sink, named after the component.
func NewZapLogger(name string, debug bool) *zap.SugaredLogger {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewExample()
	}
	return l.Named(name).Sugar()
}

// NewNopLogger returns a logger that reports nowhere; for tests.
func NewNopLogger() *RollbarLogger {
	return &RollbarLogger{std: zap.NewNop().Sugar()}
}

// Enable switches rollbar reporting on or off. Call it before the logger is shared.
func (l *RollbarLogger) Enable(enabled bool) {
	if l.rb != nil {
		l.rb.SetEnabled(enabled)
	}
}

// Close flushes pending reports.
func (l *RollbarLogger) Close() error {
	if l.rb == nil {
		return nil
	}
	return l.rb.Close()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l *RollbarLogger) report(level, msg string, args []interface{}) {
	if l.rb == nil {
		return
	}

	var (
		ctx    = context.Background()
		usrSet bool
		err    error
		extras map[string]interface{}
	)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// only set one User
			if !usrSet {
				ctx = rollbar.NewPersonContext(ctx, &rollbar.Person{Id: a.Username, Username: a.Username, Email: a.Email})
				usrSet = true
			}
		case error:
			if err == nil {
				err = a
			}
		case map[string]interface{}:
			if extras == nil {
				extras = make(map[string]interface{}, len(a))
			}
			for k, v := range a {
				extras[k] = v
			}
		}
	}

	if err != nil {
		if extras == nil {
			extras = make(map[string]interface{}, 1)
		}
		extras["message"] = msg
		l.rb.ErrorWithStackSkipWithExtrasAndContext(ctx, level, err, 3, extras)
		return
	}
	l.rb.MessageWithExtrasAndContext(ctx, level, msg, extras)
}

// fields turns args into zap key/value pairs.
func (l *RollbarLogger) fields(args []interface{}) []interface{} {
	kvs := make([]interface{}, 0, len(args)*2)
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			kvs = append(kvs, "error", a)
		case user.User:
			kvs = append(kvs, "user", a.Username)
		case map[string]interface{}:
			for k, v := range a {
				kvs = append(kvs, k, v)
			}
		default:
			kvs = append(kvs, "extra", a)
		}
	}
	return kvs
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.report(rollbar.DEBUG, msg, args)
	l.std.Debugw(msg, l.fields(args)...)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
	l.std.Infow(msg, l.fields(args)...)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
	l.std.Warnw(msg, l.fields(args)...)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
	l.std.Errorw(msg, l.fields(args)...)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	if l.rb != nil {
		l.rb.Wait()
	}
	l.std.Fatalw(msg, l.fields(args)...)
}
