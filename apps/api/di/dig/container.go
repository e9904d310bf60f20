package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/timnyborg/redpot-unchained-sub001/apps/api/echo"
	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
	emailsvc "github.com/timnyborg/redpot-unchained-sub001/services/email"
	locksvc "github.com/timnyborg/redpot-unchained-sub001/services/lock"
	logsvc "github.com/timnyborg/redpot-unchained-sub001/services/logger"
	"github.com/timnyborg/redpot-unchained-sub001/storage/database"
	dummydb "github.com/timnyborg/redpot-unchained-sub001/storage/database/dummy"
	sqlxrepos "github.com/timnyborg/redpot-unchained-sub001/storage/database/sqlx"
)

const dummyEngine = "dummy"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage holds the repositories of the configured database engine.
type Storage struct {
	dig.Out
	Users    user.Repository
	Payments payment.Repository
	Students moodleid.Repository
	Tx       core.Transactor
	Closer   io.Closer
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewZapLogger("api", conf.Debug), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewZapLogger("db", conf.Debug), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == dummyEngine {
		db, err := dummydb.Open()
		if err != nil {
			loggerParam.Logger.Fatal(fmt.Sprintf("opening in-memory database: %v", err), err)
		}
		loggerParam.Logger.Warn("using the in-memory database: nothing will be persisted")
		return Storage{
			Users:    dummydb.NewUserRepository(db),
			Payments: dummydb.NewPaymentRepository(db),
			Students: dummydb.NewStudentRepository(db),
			Tx:       dummydb.NewTransactor(db),
			Closer:   closerFunc(func() error { return nil }),
		}
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = database.Migrate(db); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	return Storage{
		Users:    sqlxrepos.NewUserRepository(db),
		Payments: sqlxrepos.NewPaymentRepository(db),
		Students: sqlxrepos.NewStudentRepository(db),
		Tx:       database.NewTransactor(db),
		Closer:   db,
	}
}

// newLocker returns nil when no Redis server is configured.
func newLocker(conf *core.Config, logger core.Logger) moodleid.Locker {
	if !conf.Redis.Enabled() {
		logger.Info("redis not configured: moodle id allocation relies on the unique constraint alone")
		return nil
	}

	rdb := locksvc.NewRedisClient(conf)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis at %s: %v", conf.Redis.Address, err), err)
	}
	return locksvc.NewRedisLocker(rdb, conf, logger)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newLocker))
	must(c.Provide(newEmailService))
	must(c.Provide(user.NewService))
	must(c.Provide(payment.NewService))
	must(c.Provide(moodleid.NewService))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
