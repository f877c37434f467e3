package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/user"
)

var errWrongClass = "this assignment is not for your class"

type submissionApi struct {
	svc      assignment.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerSubmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := submissionApi{
		svc:      deps.AssignmentSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	staff := roleMiddleware(user.RoleTeacher, user.RoleAdmin)

	sg := g.Group("/submissions", jwt)
	sg.POST("", api.submit, roleMiddleware(user.RoleStudent))
	sg.GET("/assignment/:id", api.queryByAssignment, staff)
	sg.GET("/teacher/:id", api.queryByTeacher, staff)
	sg.PUT("/:id/grade", api.grade, staff)
	sg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *submissionApi) submit(ctx echo.Context) error {
	var data assignment.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	student, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	asgmt, err := api.svc.GetByID(ctx.Request().Context(), data.AssignmentID)
	if err != nil {
		return errors.Wrap(err, "finding assignment by ID")
	}
	if !student.ClassName.Valid || student.ClassName.String != asgmt.ClassName {
		return core.NewValidationError(nil, core.FieldError{Field: "assignment_id", Error: errWrongClass})
	}

	data.StudentID = student.ID
	sub, created, err := api.svc.Submit(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}
	if created {
		return ctx.JSON(http.StatusCreated, sub)
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) queryByAssignment(ctx echo.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	asgmt, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding assignment by ID")
	}
	if err := api.checkTeaches(ctx, asgmt.TeacherID); err != nil {
		return err
	}

	details, err := api.svc.QuerySubmissionsByAssignment(ctx.Request().Context(), asgmt.ID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	return ctx.JSON(http.StatusOK, nonNilDetails(details))
}

func (api *submissionApi) queryByTeacher(ctx echo.Context) error {
	teacherID, err := pathID(ctx)
	if err != nil {
		return err
	}
	if err := api.checkTeaches(ctx, teacherID); err != nil {
		return err
	}

	details, err := api.svc.QuerySubmissionsByTeacher(ctx.Request().Context(), teacherID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	return ctx.JSON(http.StatusOK, nonNilDetails(details))
}

func (api *submissionApi) grade(ctx echo.Context) error {
	sub, err := api.getSubmission(ctx)
	if err != nil {
		return err
	}
	asgmt, err := api.svc.GetByID(ctx.Request().Context(), sub.AssignmentID)
	if err != nil {
		return errors.Wrap(err, "finding assignment by ID")
	}
	if err := api.checkTeaches(ctx, asgmt.TeacherID); err != nil {
		return err
	}

	var data assignment.GradeSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeSubmission")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sub, err = api.svc.Grade(ctx.Request().Context(), sub, data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

// destroy lets students withdraw their own submissions; admins may delete any.
func (api *submissionApi) destroy(ctx echo.Context) error {
	sub, err := api.getSubmission(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if sub.StudentID != ctxUsr.ID && !ctxUsr.IsAdmin() {
		return errHttpForbidden
	}

	if err := api.svc.DeleteSubmission(ctx.Request().Context(), sub.ID); err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *submissionApi) getSubmission(ctx echo.Context) (assignment.Submission, error) {
	id, err := pathID(ctx)
	if err != nil {
		return assignment.Submission{}, err
	}
	sub, err := api.svc.GetSubmission(ctx.Request().Context(), id)
	return sub, errors.Wrap(err, "finding submission by ID")
}

// checkTeaches fails unless the context user is `teacherID` or an admin.
func (api *submissionApi) checkTeaches(ctx echo.Context, teacherID int) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if ctxUsr.ID != teacherID && !ctxUsr.IsAdmin() {
		return errHttpForbidden
	}
	return nil
}

func nonNilDetails(details []assignment.SubmissionDetail) []assignment.SubmissionDetail {
	if details == nil {
		return []assignment.SubmissionDetail{}
	}
	return details
}
