package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/user"
)

var errAsgmtNotFoundInCtx = errors.New("assignment object not found in echo.Context")

type assignmentApi struct {
	svc      assignment.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerAssignmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := assignmentApi{
		svc:      deps.AssignmentSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/assignments", jwt)
	ag.POST("", api.create, roleMiddleware(user.RoleTeacher, user.RoleAdmin))
	ag.GET("", api.query)
	ag.GET("/teacher/:id/stats", api.teacherStats, roleMiddleware(user.RoleTeacher, user.RoleAdmin))
	ag.GET("/student/:id", api.queryForStudent)

	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, api.ownerOrAdminMiddleware)
	dg.DELETE("", api.destroy, api.ownerOrAdminMiddleware)
}

// ownerOrAdminMiddleware loads the `:id` assignment into the context when the context user teaches it or is an admin.
func (api *assignmentApi) ownerOrAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		asgmt, err := api.getAssignment(ctx)
		if err != nil {
			return err
		}
		ctxUsr, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		if asgmt.TeacherID != ctxUsr.ID && !ctxUsr.IsAdmin() {
			return errHttpForbidden
		}
		ctx.Set(contextObjectKey, asgmt)
		return next(ctx)
	}
}

func (api *assignmentApi) getAssignment(ctx echo.Context) (assignment.Assignment, error) {
	id, err := pathID(ctx)
	if err != nil {
		return assignment.Assignment{}, err
	}
	asgmt, err := api.svc.GetByID(ctx.Request().Context(), id)
	return asgmt, errors.Wrap(err, "finding assignment by ID")
}

// Handlers

func (api *assignmentApi) create(ctx echo.Context) error {
	var data assignment.NewAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if data.TeacherID, err = claims.UserID(); err != nil {
		return errUnauthorized
	}

	asgmt, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, asgmt)
}

func (api *assignmentApi) query(ctx echo.Context) error {
	var filter assignment.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	if err := filter.Validate(api.validate); err != nil {
		return err
	}

	asgmts, total, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if asgmts == nil {
		asgmts = []assignment.Assignment{}
	}
	return ctx.JSON(http.StatusOK, AssignmentPage{Total: total, Results: asgmts})
}

func (api *assignmentApi) retrieve(ctx echo.Context) error {
	asgmt, err := api.getAssignment(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, asgmt)
}

func (api *assignmentApi) update(ctx echo.Context) error {
	asgmt, ok := ctx.Get(contextObjectKey).(assignment.Assignment)
	if !ok {
		return errors.Wrap(errAsgmtNotFoundInCtx, "retrieving object from context")
	}

	var data assignment.UpdateAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	asgmt, err := api.svc.Update(ctx.Request().Context(), asgmt, data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, asgmt)
}

func (api *assignmentApi) destroy(ctx echo.Context) error {
	asgmt, ok := ctx.Get(contextObjectKey).(assignment.Assignment)
	if !ok {
		return errors.Wrap(errAsgmtNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), asgmt.ID); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// teacherStats is restricted to the teacher themselves and admins.
func (api *assignmentApi) teacherStats(ctx echo.Context) error {
	teacherID, err := pathID(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.IsAdmin() && claims.Subject != strconv.Itoa(teacherID) {
		return errHttpForbidden
	}

	stats, err := api.svc.TeacherStats(ctx.Request().Context(), teacherID)
	if err != nil {
		return errors.Wrap(err, "computing teacher stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// queryForStudent is restricted to the student themselves and staff.
func (api *assignmentApi) queryForStudent(ctx echo.Context) error {
	studentID, err := pathID(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if claims.IsStudent() && claims.Subject != strconv.Itoa(studentID) {
		return errHttpForbidden
	}

	var filter assignment.StudentFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to StudentFilter")
	}
	if err := api.validate.Struct(filter); err != nil {
		return err
	}

	student, err := api.usrSvc.GetByID(ctx.Request().Context(), studentID)
	if err != nil {
		return errors.Wrap(err, "finding student by ID")
	}
	if !student.IsStudent() {
		return errHttpNotFound
	}

	sas, err := api.svc.QueryForStudent(ctx.Request().Context(), student.ID, student.ClassName.String, filter)
	if err != nil {
		return errors.Wrap(err, "querying student assignments")
	}
	if sas == nil {
		sas = []assignment.StudentAssignment{}
	}
	return ctx.JSON(http.StatusOK, sas)
}

type AssignmentPage struct {
	Total   int                     `json:"total"`
	Results []assignment.Assignment `json:"results"`
}
