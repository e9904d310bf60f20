package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/timnyborg/redpot-unchained-sub001/core/payment"
)

type paymentApi struct {
	svc *payment.Service
}

func registerPaymentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *payment.Service) {
	api := paymentApi{svc: svc}

	pg := g.Group("/payments", jwt)
	pg.GET("", api.query)
	pg.POST("", api.raise, financeMiddleware())
	pg.POST("/approve", api.approve)
	pg.POST("/review", api.review)
	pg.GET("/:id", api.retrieve)
	pg.POST("/:id/cancel", api.cancel, financeMiddleware())
}

// Handlers

// query lists payments. Users without finance rights only see the payments awaiting their approval.
func (api *paymentApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var q PaymentQuery
	if err = q.Bind(ctx, claims.Username); err != nil {
		return err
	}
	if !(claims.IsAdmin || claims.IsFinance) && q.Approver != claims.Username {
		return errHttpForbidden
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	payments, err := api.svc.Query(ctx.Request().Context(), q.Filter(), ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []payment.TutorPayment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (api *paymentApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	id, ok := paramID(ctx)
	if !ok {
		return errHttpNotFound
	}

	p, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding payment by ID")
	}
	if !(claims.IsAdmin || claims.IsFinance) && p.Approver != claims.Username {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *paymentApi) raise(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data payment.NewPayment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}

	p, err := api.svc.Raise(ctx.Request().Context(), data, claims.Username)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *paymentApi) cancel(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	id, ok := paramID(ctx)
	if !ok {
		return errHttpNotFound
	}

	p, err := api.svc.Cancel(ctx.Request().Context(), id, claims.Username)
	if err != nil {
		return errors.Wrap(err, "cancelling payment")
	}
	return ctx.JSON(http.StatusOK, p)
}

// approve approves, on behalf of the caller, the eligible payments among the requested ones.
func (api *paymentApi) approve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data IDsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}

	n, err := api.svc.Approve(ctx.Request().Context(), data.IDs, claims.Username)
	if err != nil {
		return errors.Wrap(err, "approving payments")
	}
	return ctx.JSON(http.StatusOK, ApproveResponse{Approved: n, Message: approvedMessage(n)})
}

func approvedMessage(n int) string {
	switch n {
	case 0:
		return "No payments approved"
	case 1:
		return "1 payment approved"
	default:
		return fmt.Sprintf("%d payments approved", n)
	}
}

func (api *paymentApi) review(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data IDsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}

	reviews, err := api.svc.Review(ctx.Request().Context(), data.IDs, claims.Username)
	if err != nil {
		return errors.Wrap(err, "reviewing payments")
	}
	if reviews == nil {
		reviews = []payment.Review{}
	}
	return ctx.JSON(http.StatusOK, reviews)
}
