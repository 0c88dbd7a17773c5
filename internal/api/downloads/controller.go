package downloads

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Grab/internal/api/util"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/labstack/echo/v4"
)

type (
	Service interface {
		Submit(download.Request) (uuid.UUID, error)
		Job(uuid.UUID) (download.Job, error)
		Result(uuid.UUID) (*download.Result, error)
	}

	Releaser interface {
		Release(uuid.UUID) bool
	}

	// Controller is the struct which is responsible for defining the
	// routes for admitting downloads, polling their status and
	// retrieving their results.
	Controller struct {
		validate *validator.Validate
		service  Service
		releaser Releaser
	}
)

var controllerLogger = logger.Get("DownloadsController")

func New(validate *validator.Validate, service Service, releaser Releaser) *Controller {
	return &Controller{validate: validate, service: service, releaser: releaser}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/download/", controller.create)
	eg.GET("/download/:id/", controller.retrieve)
	eg.GET("/status/:id/", controller.status)
}

// create admits a new download, responding with the ID of the job
// which can be used to poll its status.
func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request body failed validation: %v", err))
	}

	id, err := controller.service.Submit(request.toModel())
	if err != nil {
		if errors.Is(err, download.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		controllerLogger.Errorf("Failed to admit download for %s: %v\n", request.URL, err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	return ec.JSON(http.StatusAccepted, CreateResponse{TaskID: id})
}

func (controller *Controller) status(ec echo.Context) error {
	id, err := util.ParseIDParam(ec)
	if err != nil {
		return err
	}

	job, err := controller.service.Job(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Task not found")
	}

	return ec.JSON(http.StatusOK, NewDto(job))
}

// retrieve streams the result of a completed job to the client. Once the
// result has been sent the job is scheduled for release, after which both
// the job and its artifacts are gone.
func (controller *Controller) retrieve(ec echo.Context) error {
	id, err := util.ParseIDParam(ec)
	if err != nil {
		return err
	}

	result, err := controller.service.Result(id)
	if errors.Is(err, download.ErrOutputMissing) {
		controller.releaser.Release(id)
		return echo.NewHTTPError(http.StatusGone, "File no longer available")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "File not ready")
	}

	if err := ec.Attachment(result.Path, result.DisplayName); err != nil {
		controllerLogger.Warnf("Failed to send result of job %s: %v\n", id, err)
		return err
	}

	controller.releaser.Release(id)
	return nil
}
