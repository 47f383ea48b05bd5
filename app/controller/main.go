package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ebetica/batch-shipyard/pkg/broker"
	"github.com/ebetica/batch-shipyard/pkg/client"
	"github.com/ebetica/batch-shipyard/pkg/coordinator"
	"github.com/ebetica/batch-shipyard/pkg/executor"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/scheduler"
	"github.com/ebetica/batch-shipyard/pkg/staging"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/config"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/labstack/echo/v4"
	"github.com/neko-neko/echo-logrus/v2/log"
	"github.com/pkg/errors"
)

const (
	envConfigFile = "SHIPYARD_CONFIG"
	envPort       = "PORT"
	envPoolNodes  = "SHIPYARD_POOL_NODES"
)

func main() {
	// Create context, echo object and set logger
	e := echo.New()
	ctx := context.Background()
	l := log.MyLogger{Logger: ctx.Logger().Logger}
	e.Logger = &l

	if cf := os.Getenv(envConfigFile); cf != "" {
		config.SetConfigFile(cf)
		if err := config.ReadInConfig(); err != nil {
			e.Logger.Fatal(errors.Wrap(err, "failed to read config"))
			os.Exit(1)
		}
	}

	s, err := store.NewInMemoryStore()
	if err != nil {
		e.Logger.Fatal(errors.Wrap(err, "failed to instantiate store"))
		os.Exit(1)
	}

	sc, err := newEngine(ctx, s)
	if err != nil {
		e.Logger.Fatal(errors.Wrap(err, "failed to instantiate scheduler"))
		os.Exit(1)
	}

	// Setup routes
	h := handlers{
		sc:    sc,
		store: s,
	}
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Hello, World!")
	})
	e.Add(client.SubmitMethod, client.SubmitPath, h.Submit)
	e.Add(client.JobsMethod, client.JobsPath, h.ListJobs)
	e.Add(client.JobStateMethod, client.JobStatePath, h.JobState)
	e.Add(client.TaskStateMethod, client.TaskStatePath, h.TaskState)
	e.Add(client.CancelMethod, client.CancelPath, h.Cancel)

	e.HideBanner = true
	e.HidePort = true

	port := os.Getenv(envPort)
	if port == "" {
		port = "8080"
	}
	e.Logger.Infof("http server started on 127.0.0.1:%s", port)
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%s", port)))
}

// newEngine instantiates the job engine with its broker, pool, staging and
// executor wiring.
func newEngine(ctx context.Context, s store.Store) (scheduler.Engine, error) {
	b, err := broker.NewFromConfig(ctx, "broker")
	if err != nil {
		return nil, err
	}

	p := pool.NewStaticProvider(poolNodes()...)

	var stagingCfg staging.Config
	if err := config.Unmarshal("staging", &stagingCfg); err != nil {
		return nil, errors.Wrap(err, "cannot read staging config")
	}
	stg := staging.NewEngine(staging.NewBlobxferTransferer(), s, stagingCfg)

	exec, err := executor.NewDockerExecutor()
	if err != nil {
		return nil, err
	}

	var schedulerCfg scheduler.Config
	if err := config.Unmarshal("scheduler", &schedulerCfg); err != nil {
		return nil, errors.Wrap(err, "cannot read scheduler config")
	}

	coord := coordinator.New(b, p, stg)
	return scheduler.New(s, stg, coord, exec, p, schedulerCfg), nil
}

func poolNodes() []pool.NodeID {
	raw := os.Getenv(envPoolNodes)
	if raw == "" {
		return []pool.NodeID{"localhost"}
	}
	var nodes []pool.NodeID
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			nodes = append(nodes, pool.NodeID(n))
		}
	}
	return nodes
}

type handlers struct {
	sc    scheduler.Engine
	store store.Store
}
