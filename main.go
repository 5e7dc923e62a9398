package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fzft/go-time-server/cmd"
	"github.com/fzft/go-time-server/config"
	"github.com/fzft/go-time-server/deps/htime"
	"github.com/fzft/go-time-server/log"
	"github.com/fzft/go-time-server/node"
)

const envPrefix = "TIMESERVER_"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "go-time-server",
		Usage:   "answer QUERY TIME ORDER over TCP",
		Version: Version(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the time server",
				Flags:  serveFlags(),
				Action: serveAction,
			},
			{
				Name:      "cli",
				Usage:     "talk to a time server, interactively or with one request",
				ArgsUsage: "[request ...]",
				Flags:     cliFlags(),
				Action:    cliAction,
			},
		},
	}
}

func envVars(name string) []string {
	return []string{envPrefix + name}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load a .toml or .ini file", EnvVars: envVars("CONFIG")},
		&cli.StringFlag{Name: "addr", Usage: "listen address, empty means all interfaces", EnvVars: envVars("ADDR")},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: config.DefaultPort, Usage: "listen port", EnvVars: envVars("PORT")},
		&cli.IntFlag{Name: "backlog", Value: config.DefaultBacklog, Usage: "listen backlog", EnvVars: envVars("BACKLOG")},
		&cli.IntFlag{Name: "wait-timeout", Value: config.DefaultWaitTimeoutMs, Usage: "readiness wait timeout in milliseconds", EnvVars: envVars("WAIT_TIMEOUT")},
		&cli.IntFlag{Name: "read-buffer", Value: config.DefaultReadBufferSize, Usage: "bytes taken by one read", EnvVars: envVars("READ_BUFFER")},
		&cli.BoolFlag{Name: "queue-partial-writes", Usage: "keep the unsent tail of a short write instead of dropping it", EnvVars: envVars("QUEUE_PARTIAL_WRITES")},
		&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics on this address", EnvVars: envVars("METRICS_ADDR")},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: envVars("LOG_LEVEL")},
		&cli.StringFlag{Name: "log-encoding", Value: "json", Usage: "json or console", EnvVars: envVars("LOG_ENCODING")},
	}
}

func cliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: htime.DefaultHost, Usage: "server host", EnvVars: envVars("HOST")},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: config.DefaultPort, Usage: "server port", EnvVars: envVars("PORT")},
		&cli.DurationFlag{Name: "timeout", Value: htime.DefaultTimeout, Usage: "dial and reply timeout", EnvVars: envVars("TIMEOUT")},
	}
}

// loadConfig layers defaults, the config file and then any flag or
// environment variable that was actually set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	conf := config.Default()
	if file := c.String("config"); file != "" {
		var err error
		if conf, err = config.Load(file); err != nil {
			return nil, err
		}
	}

	if c.IsSet("addr") {
		conf.Server.Addr = c.String("addr")
	}
	if c.IsSet("port") {
		conf.Server.Port = c.Int("port")
	}
	if c.IsSet("backlog") {
		conf.Server.Backlog = c.Int("backlog")
	}
	if c.IsSet("wait-timeout") {
		conf.Server.WaitTimeoutMs = c.Int("wait-timeout")
	}
	if c.IsSet("read-buffer") {
		conf.Server.ReadBufferSize = c.Int("read-buffer")
	}
	if c.IsSet("queue-partial-writes") {
		conf.Server.QueuePartialWrites = c.Bool("queue-partial-writes")
	}
	if c.IsSet("metrics-addr") {
		conf.Metrics.Addr = c.String("metrics-addr")
	}
	if c.IsSet("log-level") {
		conf.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-encoding") {
		conf.Log.Encoding = c.String("log-encoding")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func serveAction(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := log.InitLogger(conf.Log); err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	s := node.NewServer(conf.Server)
	if err := s.Start(); err != nil {
		return err
	}

	if conf.Metrics.Addr != "" {
		go func() {
			if err := node.ServeMetrics(ctx, conf.Metrics.Addr, conf.Metrics.Path, s.Metrics()); err != nil {
				log.Logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	return s.Run(ctx)
}

func cliAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM)
	defer stop()

	return cmd.NewTimeCli(c.String("host"), c.Int("port"), c.Duration("timeout")).Run(ctx, c.Args().Slice())
}
