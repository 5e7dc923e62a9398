package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/fzft/go-time-server/deps/htime"
	"github.com/fzft/go-time-server/deps/linenoise"
	"github.com/fzft/go-time-server/log"
	"github.com/fzft/go-time-server/proto"
)

var (
	TimeCliHistFileEnv     = "TIMECLI_HISTFILE"
	TimeCliHistFileDefault = ".timecli_history"
)

type CliConnectFlag int

const (
	CCForce CliConnectFlag = 1 << iota // Re-connect if already connected.
	CCQuiet                            // Don't show non-error messages.
)

var errQuit = errors.New("quit")

type CliConnInfo struct {
	hostIp   string
	hostPort int
}

type TimeCliCfg struct {
	connInfo    *CliConnInfo
	timeout     time.Duration
	interactive bool
	prompt      string
}

type TimeCli struct {
	config *TimeCliCfg
	client *htime.Client

	out    io.Writer
	errOut io.Writer
}

func NewTimeCli(host string, port int, timeout time.Duration) *TimeCli {
	if host == "" {
		host = htime.DefaultHost
	}
	cli := &TimeCli{
		config: &TimeCliCfg{
			connInfo: &CliConnInfo{hostIp: host, hostPort: port},
			timeout:  timeout,
		},
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	cli.refreshPrompt()
	return cli
}

// Run sends args as one request when there are any, otherwise it starts the
// interactive prompt.
func (cli *TimeCli) Run(ctx context.Context, args []string) error {
	defer cli.disconnect()

	if len(args) > 0 {
		if err := cli.connect(ctx, CCQuiet); err != nil {
			return err
		}
		return cli.issue(ctx, strings.Join(args, " "))
	}

	_ = cli.connect(ctx, 0)
	return cli.repl(ctx)
}

// connect to the time server
// flag: CCForce: The connection is performed even if there is already
// a connected socket.
// CCQuiet: Don't print errors if connection fails
func (cli *TimeCli) connect(ctx context.Context, flag CliConnectFlag) error {
	if cli.client != nil && flag&CCForce == 0 {
		return nil
	}
	cli.disconnect()

	info := cli.config.connInfo
	client, err := htime.Dial(ctx, info.hostIp, info.hostPort, cli.config.timeout)
	if err != nil {
		if flag&CCQuiet == 0 {
			fmt.Fprintf(cli.errOut, "Could not connect to time server at %s:%d: %s\n", info.hostIp, info.hostPort, err)
		}
		return err
	}
	cli.client = client
	log.Logger.Debug("connected", zap.String("addr", client.Addr()))
	return nil
}

func (cli *TimeCli) disconnect() {
	if cli.client == nil {
		return
	}
	if err := cli.client.Close(); err != nil {
		log.Logger.Debug("close connection", zap.Error(err))
	}
	cli.client = nil
}

func (cli *TimeCli) repl(ctx context.Context) error {
	var (
		history     bool
		historyFile string
	)

	line := linenoise.New()
	defer line.Close()

	cli.config.interactive = true
	if isatty.IsTerminal(os.Stdin.Fd()) {
		historyFile = getDotfilePath(TimeCliHistFileEnv, TimeCliHistFileDefault)
		// keep in-memory history always regardless if history file can be determined
		history = true
		if historyFile != "" {
			_ = line.HistoryLoad(historyFile)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		prompt := cli.config.prompt
		if cli.client == nil {
			prompt = "not connected> "
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if strings.TrimSpace(input) == "" {
			continue
		}
		if history {
			line.AppendHistory(input)
			if historyFile != "" {
				_ = line.HistorySave(historyFile)
			}
		}

		if err := cli.execute(ctx, line, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(cli.errOut, "(error) %s\n", err)
		}
	}
}

type screen interface {
	ClearScreen() error
}

// execute runs one prompt line. Lines that are not client commands go to the
// server verbatim.
func (cli *TimeCli) execute(ctx context.Context, sc screen, input string) error {
	argv := cli.splitArgs(input)
	argc := len(argv)
	if argc == 0 {
		return nil
	}

	switch {
	case strings.EqualFold(argv[0], "quit") || strings.EqualFold(argv[0], "exit"):
		return errQuit
	case argc == 1 && strings.EqualFold(argv[0], "help"):
		cli.help()
		return nil
	case argc == 1 && strings.EqualFold(argv[0], "clear"):
		if sc == nil {
			return nil
		}
		return sc.ClearScreen()
	case argc == 3 && strings.EqualFold(argv[0], "connect"):
		port, err := strconv.Atoi(argv[2])
		if err != nil {
			return fmt.Errorf("invalid port number %q", argv[2])
		}
		cli.config.connInfo.hostIp = argv[1]
		cli.config.connInfo.hostPort = port
		cli.refreshPrompt()
		return cli.connect(ctx, CCForce|CCQuiet)
	case argc == 1 && strings.EqualFold(argv[0], "time"):
		if err := cli.connect(ctx, CCQuiet); err != nil {
			return err
		}
		ts, err := cli.client.QueryTime(ctx)
		if err != nil {
			return cli.dropOnError(err)
		}
		fmt.Fprintln(cli.out, ts.Format(proto.TimeLayout))
		return nil
	default:
		return cli.issue(ctx, strings.TrimSpace(input))
	}
}

func (cli *TimeCli) issue(ctx context.Context, request string) error {
	if err := cli.connect(ctx, CCQuiet); err != nil {
		return err
	}
	reply, err := cli.client.Do(ctx, request)
	if err != nil {
		return cli.dropOnError(err)
	}
	fmt.Fprintln(cli.out, reply)
	return nil
}

// dropOnError forgets a connection that failed mid request, the next command
// dials again.
func (cli *TimeCli) dropOnError(err error) error {
	if !errors.Is(err, htime.ErrBadOrder) {
		cli.disconnect()
	}
	return err
}

func (cli *TimeCli) help() {
	fmt.Fprint(cli.out, `time                 ask the server for the current time
connect <host> <port> connect to another server
clear                clear the screen
quit, exit           leave
anything else is sent to the server as is
`)
}

func (cli *TimeCli) splitArgs(line string) []string {
	return strings.Fields(line)
}

func (cli *TimeCli) refreshPrompt() {
	cli.config.prompt = fmt.Sprintf("%s:%d> ", cli.config.connInfo.hostIp, cli.config.connInfo.hostPort)
}

func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = filepath.Join(home, dotFilename)
		}
	}
	return dotPath
}
