package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
	"github.com/timnyborg/redpot-unchained-sub001/core/user"
	"github.com/timnyborg/redpot-unchained-sub001/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sqlx.DB
	out       io.Writer
	usrRepo   user.Repository
	moodleSvc *moodleid.Service
}

// intsFlag collects a repeatable integer flag.
type intsFlag []int

func (f *intsFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, i := range *f {
		parts = append(parts, strconv.Itoa(i))
	}
	return strings.Join(parts, ",")
}

func (f *intsFlag) Set(s string) error {
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return errors.Errorf("invalid id %q", s)
	}
	*f = append(*f, i)
	return nil
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	_, _ = fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-admin] [-finance] - create or update a user")
	_, _ = fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	_, _ = fmt.Fprintln(cli.out, "  assignmoodleids [-student ID]... - issue moodle ids to students that have none")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the admin role.")
	addUserFinance := addUserCmd.Bool("finance", false, "Grant the finance role.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	assignCmd := flag.NewFlagSet("assignmoodleids", flag.ContinueOnError)
	assignCmd.SetOutput(cli.out)
	var studentIDs intsFlag
	assignCmd.Var(&studentIDs, "student", "A student ID (repeatable). All students without a moodle id if omitted.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return migrateFunc(cli.db, args[2:]...)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		var roles []string
		if *addUserAdmin {
			roles = append(roles, user.RoleAdmin)
		}
		if *addUserFinance {
			roles = append(roles, user.RoleFinance)
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, roles)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "assignmoodleids":
		if err := assignCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.assignMoodleIDs(studentIDs)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

// addUser updates or creates an active user.User with the given roles.
func (cli *commandLine) addUser(uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if err := core.Validate.Var(uname, "required,min=2,alphanum_"); err != nil {
		return errors.Wrap(err, "invalid username")
	}
	if err := core.Validate.Var(email, "required,email"); err != nil {
		return errors.Wrap(err, "invalid email")
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	found := err == nil
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return errors.Wrap(err, "finding user")
	}
	if !found {
		usr = user.User{Name: uname, Username: uname}
	}
	if err = cli.usrRepo.CheckUniqueness(ctx, uname, email, usr.ID); err != nil {
		return err
	}

	usr.Email = email
	usr.IsActive = true
	usr.Roles = roles
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}

	if found {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	if err != nil {
		return errors.Wrap(err, "saving user")
	}
	_, _ = fmt.Fprintf(cli.out, "user %s saved\n", uname)
	return nil
}

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.usrRepo.UpdateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}

func (cli *commandLine) assignMoodleIDs(studentIDs []int) error {
	assigned, err := cli.moodleSvc.AssignMissing(context.Background(), studentIDs)

	ids := make([]int, 0, len(assigned))
	for id := range assigned {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		_, _ = fmt.Fprintf(cli.out, "student %d: %d\n", id, assigned[id])
	}
	_, _ = fmt.Fprintf(cli.out, "%d moodle id(s) assigned\n", len(assigned))
	return err
}
