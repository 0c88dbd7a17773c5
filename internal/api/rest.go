package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Grab/internal/api/downloads"
	"github.com/hbomb79/Grab/internal/api/info"
	"github.com/hbomb79/Grab/internal/http/websocket"
	"github.com/hbomb79/Grab/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.Get("API")

const apiPrefix = "/api/grab/v1"

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8000"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// downloadService represents a union of the requirements of the
	// download controller and the activity broadcaster
	downloadService interface {
		downloads.Service
		jobStore
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes Grab exposes, and to manage ongoing web socket connections.
	RestGateway struct {
		*broadcaster
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		infoController     controller
		downloadController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	resolver info.Resolver,
	downloadService downloadService,
	releaser downloads.Releaser,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.Logger.SetLevel(gommonlog.OFF)

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:        newBroadcaster(socket, downloadService),
		config:             config,
		ec:                 ec,
		socket:             socket,
		infoController:     info.New(validate, resolver),
		downloadController: downloads.New(validate, downloadService, releaser),
	}
	socket.WithConnectionCallback(gateway.connectionPayload)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/metrics/", echo.WrapHandler(promhttp.Handler()))
	ec.GET(apiPrefix+"/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	api := ec.Group(apiPrefix)
	gateway.infoController.SetRoutes(api)
	gateway.downloadController.SetRoutes(api)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.NEW, "Listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && err != http.ErrServerClosed {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// ServeHTTP allows the gateway to be mounted without starting a
// listener (used by tests).
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}
