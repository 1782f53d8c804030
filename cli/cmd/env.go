package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/Kovercrosser/easy-cold-storage-uploader/adapter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/adapter/redis"
	"github.com/Kovercrosser/easy-cold-storage-uploader/adapter/webhook"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cancel"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/config"
	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
	"github.com/Kovercrosser/easy-cold-storage-uploader/log"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// env is the per-invocation state shared by the commands: the loaded
// config, the selected profile and the output streams.
type env struct {
	c       *cli.Context
	cfg     *config.Config
	path    string
	profile string
	level   zapcore.Level
	stdout  io.Writer
	stderr  io.Writer
}

// loadEnv reads the config file named by --config, or the default one.
// A missing file is an empty config.
func loadEnv(c *cli.Context) (*env, error) {
	path, err := configPath(c)
	if err != nil {
		return nil, transfer.ConfigError("config", "%v", err)
	}
	cfg, err := config.LoadOrEmpty(path)
	if err != nil {
		return nil, transfer.ConfigError("config", "%v", err)
	}

	levelName := c.String("log-level")
	if levelName == "" {
		levelName = cfg.LogLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, transfer.ConfigError("config", "%v", err)
	}

	profile := profileName(c)
	if _, ok := cfg.Profiles[profile]; !ok && profile != config.DefaultProfile {
		return nil, transfer.ConfigError("config", "profile %q not found in %s", profile, path)
	}

	e := &env{c: c, cfg: cfg, path: path, profile: profile, level: level, stdout: os.Stdout, stderr: os.Stderr}
	if c.App != nil {
		if c.App.Writer != nil {
			e.stdout = c.App.Writer
		}
		if c.App.ErrWriter != nil {
			e.stderr = c.App.ErrWriter
		}
	}
	return e, nil
}

func configPath(c *cli.Context) (string, error) {
	if p := c.String("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// logFileName sits next to the config file and takes transfer logs while
// the live progress view owns stderr.
const logFileName = "ecsu.log"

// logger returns a logger for one transfer. JSON lines go to stderr, or
// are appended to logFileName when live is set so they cannot tear the
// view. The returned func flushes and closes the sink.
func (e *env) logger(method string, live bool) (*log.Logger, func()) {
	tc := log.Context{Profile: e.profile, TransferMethod: method}
	if !live {
		l := log.NewLogger(tc, e.level, e.stderr)
		return l, func() { iox.DiscardErr(l.Sync) }
	}
	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return log.Nop(), func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return log.Nop(), func() {}
	}
	l := log.NewLogger(tc, e.level, f)
	return l, func() {
		iox.DiscardErr(l.Sync)
		iox.DiscardClose(f)
	}
}

// str resolves a string setting: flag, then profile setting, then def.
func (e *env) str(flag, key, def string) string {
	if flag != "" && e.c.IsSet(flag) {
		return e.c.String(flag)
	}
	if v, ok := e.cfg.Setting(e.profile, key); ok {
		return v
	}
	return def
}

// int resolves a numeric setting with the same precedence as str.
func (e *env) int(flag, key string, def int) (int, error) {
	if flag != "" && e.c.IsSet(flag) {
		return e.c.Int(flag), nil
	}
	n, ok, err := e.cfg.IntSetting(e.profile, key)
	if err != nil {
		return 0, transfer.ConfigError("settings", "%v", err)
	}
	if ok {
		return n, nil
	}
	return def, nil
}

// openLedger opens the ledger on S3 when configured, otherwise on the
// local filesystem.
func (e *env) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	if s3 := e.cfg.Ledger.S3; s3 != nil {
		return ledger.NewS3(ctx, ledger.S3Config{
			Bucket:       s3.Bucket,
			Prefix:       s3.Prefix,
			Region:       s3.Region,
			Endpoint:     s3.Endpoint,
			UsePathStyle: s3.PathStyle,
		})
	}
	root := e.cfg.Ledger.Path
	if root == "" {
		var err error
		if root, err = config.DefaultLedgerPath(); err != nil {
			return nil, err
		}
	}
	return ledger.NewFS(root)
}

// notifier builds the configured completed-transfer adapters. It returns
// nil when none are configured.
func (e *env) notifier() (adapter.Adapter, error) {
	var multi adapter.Multi
	if rc := e.cfg.Notify.Redis; rc != nil {
		a, err := redis.New(redis.Config{
			URL:     rc.URL,
			Channel: rc.Channel,
			Timeout: rc.Timeout.Duration,
			Retries: retriesOr(rc.Retries, redis.DefaultRetries),
		})
		if err != nil {
			return nil, transfer.ConfigError("notify", "%v", err)
		}
		multi = append(multi, a)
	}
	if wc := e.cfg.Notify.Webhook; wc != nil {
		a, err := webhook.New(webhook.Config{
			URL:     wc.URL,
			Headers: wc.Headers,
			Timeout: wc.Timeout.Duration,
			Retries: retriesOr(wc.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			_ = multi.Close()
			return nil, transfer.ConfigError("notify", "%v", err)
		}
		multi = append(multi, a)
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

func retriesOr(n *int, def int) int {
	if n == nil {
		return def
	}
	return *n
}

// watchSignals fires bus on SIGINT or SIGTERM and cancels the returned
// context. The returned stop function releases the signal handler.
func watchSignals(ctx context.Context, bus *cancel.Bus) (context.Context, func()) {
	ctx, cancelCtx := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			bus.Fire("received " + sig.String())
			cancelCtx()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancelCtx()
	}
}
