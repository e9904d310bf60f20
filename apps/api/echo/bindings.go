package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
)

var (
	orderingParam = "ordering"

	errUnknownStatus = errors.New("unknown status")
	errNotANumber    = errors.New("must be a number")
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// PaymentQuery holds the query string of the payment list endpoint.
type PaymentQuery struct {
	Statuses      []payment.Status
	Approver      string
	TutorModuleID int
}

// Bind reads `status` (repeatable), `approver` and `tutor_module`; `approver=me` stands for username.
func (q *PaymentQuery) Bind(ctx echo.Context, username string) error {
	for _, s := range ctx.QueryParams()["status"] {
		status := payment.Status(core.CleanString(s, true /* lower */))
		if !status.Valid() {
			return core.NewValidationError(errUnknownStatus, core.FieldError{Field: "status", Error: errUnknownStatus.Error()})
		}
		q.Statuses = append(q.Statuses, status)
	}
	q.Statuses = lo.Uniq(q.Statuses)

	q.Approver = core.CleanString(ctx.QueryParam("approver"), true /* lower */)
	if q.Approver == "me" {
		q.Approver = username
	}

	if tm := ctx.QueryParam("tutor_module"); tm != "" {
		id, err := strconv.Atoi(tm)
		if err != nil {
			return core.NewValidationError(errNotANumber, core.FieldError{Field: "tutor_module", Error: errNotANumber.Error()})
		}
		q.TutorModuleID = id
	}
	return nil
}

func (q PaymentQuery) Filter() payment.QueryFilter {
	return payment.QueryFilter{
		Statuses:      q.Statuses,
		Approver:      q.Approver,
		TutorModuleID: q.TutorModuleID,
	}
}

func paramID(ctx echo.Context) (int, bool) {
	id, err := strconv.Atoi(ctx.Param("id"))
	return id, err == nil && id > 0
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	IDsRequest struct {
		IDs []int `json:"ids"`
	}

	ApproveResponse struct {
		Approved int    `json:"approved"`
		Message  string `json:"message"`
	}

	MoodleIDResponse struct {
		StudentID int `json:"student_id"`
		MoodleID  int `json:"moodle_id"`
	}

	AssignedResponse struct {
		Assigned map[int]int `json:"assigned"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return core.Validate.Struct(lr)
}
