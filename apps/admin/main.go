package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
	locksvc "github.com/timnyborg/redpot-unchained-sub001/services/lock"
	logsvc "github.com/timnyborg/redpot-unchained-sub001/services/logger"
	"github.com/timnyborg/redpot-unchained-sub001/storage/database"
	sqlxrepos "github.com/timnyborg/redpot-unchained-sub001/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewZapLogger("admin", conf.Debug), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	var locker moodleid.Locker
	if conf.Redis.Enabled() {
		locker = locksvc.NewRedisLocker(locksvc.NewRedisClient(conf), conf, logger)
	}

	// start CLI
	cli := commandLine{
		db:        db,
		out:       os.Stdout,
		usrRepo:   sqlxrepos.NewUserRepository(db),
		moodleSvc: moodleid.NewService(sqlxrepos.NewStudentRepository(db), locker, conf, logger),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil && !errors.Is(err, errHelp) {
		logger.Error(fmt.Sprintf("error: %v", err), err)
	}
	_ = logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
