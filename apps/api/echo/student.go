package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
)

type studentApi struct {
	svc *moodleid.Service
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *moodleid.Service) {
	api := studentApi{svc: svc}

	sg := g.Group("/students", jwt, adminMiddleware())
	sg.POST("/moodle-ids", api.assignMissing)
	sg.POST("/:id/moodle-id", api.assign)
}

// Handlers

func (api *studentApi) assign(ctx echo.Context) error {
	id, ok := paramID(ctx)
	if !ok {
		return errHttpNotFound
	}

	moodleID, err := api.svc.Assign(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "assigning moodle id")
	}
	return ctx.JSON(http.StatusCreated, MoodleIDResponse{StudentID: id, MoodleID: moodleID})
}

// assignMissing issues Moodle IDs to the given students, or to every student lacking one.
func (api *studentApi) assignMissing(ctx echo.Context) error {
	var data IDsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}

	assigned, err := api.svc.AssignMissing(ctx.Request().Context(), data.IDs)
	if err != nil {
		// report the ids issued before the failure along with the error
		return errWithData{
			error: errors.Wrap(err, "assigning missing moodle ids"),
			data:  echo.Map{"assigned": assigned},
		}
	}
	return ctx.JSON(http.StatusOK, AssignedResponse{Assigned: assigned})
}
