package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
	logsvc "github.com/timnyborg/redpot-unchained-sub001/services/logger"
	dummydb "github.com/timnyborg/redpot-unchained-sub001/storage/database/dummy"
)

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func setup(t *testing.T) (*commandLine, *dummydb.DB, *bytes.Buffer) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	out := new(bytes.Buffer)
	cli := &commandLine{
		out:       out,
		usrRepo:   dummydb.NewUserRepository(db),
		moodleSvc: moodleid.NewService(dummydb.NewStudentRepository(db), nil, core.NewTestConfig(), logsvc.NewNopLogger()),
	}
	return cli, db, out
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err == nil || !strings.HasPrefix(err.Error(), tt.wantErrStr) {
			t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	var gotArgs []string
	origMigrate := migrateFunc
	migrateFunc = func(db *sqlx.DB, args ...string) error {
		gotArgs = args
		switch args[0] {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) < 2 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", args[0], args[0])
			}
			if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[1])
			}
		default:
			return fmt.Errorf("%q: no such command", args[0])
		}
		return nil
	}
	t.Cleanup(func() { migrateFunc = origMigrate })

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
	assert.Equal(t, []string{"status"}, gotArgs)
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _, _ := setup(t)
	ctx := context.Background()

	_, err := cli.usrRepo.CreateUser(ctx, user.User{Username: "taken", Email: "taken@example.com", IsActive: true})
	require.NoError(t, err)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "jdoe"}, extra: extra{pwd: "pwd"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "jdoe", "-email", "jdoe@example.com"}, wantErr: errHelp},
		{name: "bad username", args: []string{"adduser", "-username", "j.doe", "-email", "jdoe@example.com"}, extra: extra{pwd: "pwd"}, wantErrStr: "invalid username"},
		{name: "email taken", args: []string{"adduser", "-username", "jdoe", "-email", "TAKEN@example.com"}, extra: extra{pwd: "pwd"}, wantErr: user.ErrEmailExists},
		{name: "create", args: []string{"adduser", "-username", "JDoe", "-email", "jdoe@example.com", "-finance"}, extra: extra{pwd: "pwd"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, pwd)
			checkErr(t, tt, cli.run(args))
		})
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "jdoe"})
	require.NoError(t, err)
	assert.True(t, usr.IsActive)
	assert.Equal(t, "jdoe@example.com", usr.Email)
	assert.Equal(t, []string{user.RoleFinance}, usr.Roles)
	assert.NoError(t, usr.CheckPassword("pwd"))

	// running it again updates the user in place
	mockPassword(t, "new-pwd")
	require.NoError(t, cli.run([]string{"admin", "adduser", "-username", "jdoe", "-email", "jdoe@example.com", "-admin"}))

	updated, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "jdoe"})
	require.NoError(t, err)
	assert.Equal(t, usr.ID, updated.ID)
	assert.Equal(t, []string{user.RoleAdmin}, updated.Roles)
	assert.NoError(t, updated.CheckPassword("new-pwd"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _, _ := setup(t)

	usr := user.User{Username: "awe", Email: "awe@test.cd", IsActive: true}
	require.NoError(t, usr.SetPassword("mdr"))
	usr, err := cli.usrRepo.CreateUser(context.Background(), usr)
	require.NoError(t, err)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.cd"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}

		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, pwd)
			err := cli.run(args)
			checkErr(t, tt, err)
			if err == nil {
				refreshed, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_assignMoodleIDs(t *testing.T) {
	cli, db, out := setup(t)
	s1 := db.AddStudent(dummydb.Student{Firstname: "Ada"})
	s2 := db.AddStudent(dummydb.Student{Firstname: "Grace", MoodleID: null.IntFrom(2512034)})
	s3 := db.AddStudent(dummydb.Student{Firstname: "Alan"})

	checkErr(t, cliTest{wantErr: errHelp}, cli.run([]string{"admin", "assignmoodleids", "-student", "abc"}))

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "assignmoodleids", "-student", strconv.Itoa(s3.ID), "-student", strconv.Itoa(s2.ID)}))
	stored3, _ := db.Student(s3.ID)
	require.True(t, stored3.MoodleID.Valid)
	assert.Contains(t, out.String(), fmt.Sprintf("student %d: %d\n", s3.ID, stored3.MoodleID.Int))
	assert.Contains(t, out.String(), "1 moodle id(s) assigned")

	stored1, _ := db.Student(s1.ID)
	assert.False(t, stored1.MoodleID.Valid, "only the selected students")

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "assignmoodleids"}))
	stored1, _ = db.Student(s1.ID)
	assert.Equal(t, null.IntFrom(stored3.MoodleID.Int+1), stored1.MoodleID)
	assert.Contains(t, out.String(), "1 moodle id(s) assigned")
}
