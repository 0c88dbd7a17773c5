package info

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Grab/internal/api/util"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/labstack/echo/v4"
)

const pageSize = 30

type (
	Resolver interface {
		Describe(ctx context.Context, url string) (*extract.Info, error)
		Browse(ctx context.Context, url string, tab string, offset int, limit int) (*extract.Page, error)
	}

	Controller struct {
		validate *validator.Validate
		resolver Resolver
	}
)

var controllerLogger = logger.Get("InfoController")

func New(validate *validator.Validate, resolver Resolver) *Controller {
	return &Controller{validate: validate, resolver: resolver}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/info/", controller.describe)
}

// describe resolves the URL in the request body. Depending on the request,
// and on what the URL points to, the response is either a single item, a
// playlist, or a page of entries from a channel tab.
func (controller *Controller) describe(ec echo.Context) error {
	var request Request
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request body failed validation: %v", err))
	}

	ctx := ec.Request().Context()
	if request.Tab != nil {
		page, err := controller.resolver.Browse(ctx, request.URL, *request.Tab, util.NotNilOrDefault(request.Offset, 0), pageSize)
		if err != nil {
			controllerLogger.Warnf("Failed to browse %s: %v\n", request.URL, err)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		return ec.JSON(http.StatusOK, NewPageDto(page))
	}

	info, err := controller.resolver.Describe(ctx, request.URL)
	if err != nil {
		controllerLogger.Warnf("Failed to describe %s: %v\n", request.URL, err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if info.IsPlaylist {
		return ec.JSON(http.StatusOK, NewPlaylistDto(info))
	}

	return ec.JSON(http.StatusOK, NewVideoDto(info, request.URL))
}
