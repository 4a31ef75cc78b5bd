package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/client"
	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/paths"
	"github.com/matheus3301/pairchat/internal/tui"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", paths.ConfigPath(), "config file")
	urlFlag := flag.String("url", "", "websocket URL (default derived from listen_addr)")
	tokenFlag := flag.String("token", os.Getenv("PAIRCHAT_TOKEN"), "access token")
	userFlag := flag.String("user", "", "username to mint a token for via the local daemon")
	logFlag := flag.String("log", "", "write a debug log to this file")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fail(err)
	}
	instance := paths.ResolveName(*instanceFlag, cfg)
	if err := paths.ValidateName(instance); err != nil {
		fail(err)
	}

	logger := zap.NewNop()
	if *logFlag != "" {
		zc := zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{*logFlag}
		zc.ErrorOutputPaths = []string{*logFlag}
		if logger, err = zc.Build(); err != nil {
			fail(err)
		}
	}
	defer func() { _ = logger.Sync() }()

	token := *tokenFlag
	if token == "" {
		if *userFlag == "" {
			fail(fmt.Errorf("no token: pass --token, set PAIRCHAT_TOKEN or use --user with a local daemon"))
		}
		token, err = tokenFromDaemon(paths.Resolve(instance, cfg).SocketPath(), *userFlag)
		if err != nil {
			fail(err)
		}
	}
	self, err := auth.Subject(token)
	if err != nil {
		fail(err)
	}

	url := *urlFlag
	if url == "" {
		url = wsURL(cfg.ListenAddr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := client.Dial(ctx, url, token, logger.Named("client"))
	cancel()
	if err != nil {
		fail(err)
	}
	defer func() { _ = conn.Close() }()

	app := tui.NewApp(conn, self, logger)
	if err := app.Run(); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// wsURL turns a listen address such as ":8080" into a local websocket URL.
func wsURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "ws://localhost:8080/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port) + "/ws"
}

// tokenFromDaemon asks the local daemon's admin API for a token.
func tokenFromDaemon(socketPath, username string) (string, error) {
	c, err := api.Dial(socketPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, _ := structpb.NewStruct(map[string]any{"username": username})
	resp, err := c.Admin.IssueToken(ctx, in)
	if err != nil {
		return "", fmt.Errorf("issue token for %q: %w", username, err)
	}
	return resp.GetFields()["token"].GetStringValue(), nil
}
