package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/qbloq/pathql/core"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

// cli carries what the commands share: where config is read from, where
// output goes and the state set up from the config.
type cli struct {
	fs    afero.Fs
	out   io.Writer
	log   *zap.SugaredLogger
	cpath string
	conf  *Config
}

// Cmd is the entry point for the CLI
func Cmd() {
	c := &cli{
		fs:  afero.NewOsFs(),
		out: os.Stdout,
		log: newLogger("plain", zapcore.InfoLevel, os.Stderr).Sugar(),
	}

	if err := c.rootCmd().Execute(); err != nil {
		c.log.Fatalf("%s", err)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:           "pathql",
		Short:         BuildDetails(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(c.sqlCmd())
	rootCmd.AddCommand(c.treeCmd())
	rootCmd.AddCommand(c.execCmd())
	rootCmd.AddCommand(c.findCmd())
	rootCmd.AddCommand(versionCmd(c.out))
	return rootCmd
}

// setup reads the config file and rebuilds the logger from it
func (c *cli) setup() error {
	if c.conf != nil {
		return nil
	}

	cp, err := filepath.Abs(c.cpath)
	if err != nil {
		return err
	}

	if c.conf, err = ReadInConfig(c.fs, cp); err != nil {
		return err
	}

	level, err := zapcore.ParseLevel(c.conf.LogLevel)
	if err != nil {
		return err
	}
	if c.conf.Debug {
		level = zapcore.DebugLevel
	}
	c.log = newLogger(c.conf.LogFormat, level, os.Stderr).Sugar()
	return nil
}

// initEngine loads the definition and creates the engine
func (c *cli) initEngine() (*core.Engine, error) {
	if err := c.setup(); err != nil {
		return nil, err
	}

	def, err := core.LoadDefinition(c.fs, c.conf.RelPath(c.conf.Definition))
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	return core.NewEngine(def, &c.conf.Config,
		core.OptionSetLogger(c.log),
		core.OptionSetFS(afero.NewBasePathFs(c.fs, c.conf.configPath)))
}

// initConn opens the database connection, the returned func closes it
func (c *cli) initConn(ctx context.Context) (core.Conn, func(), error) {
	dc := c.conf.Database
	if dc.URL == "" {
		return nil, nil, fmt.Errorf("database.url is not set")
	}

	if dc.Stdlib {
		db, err := sql.Open("pgx", dc.URL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(int(dc.PoolSize))
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return core.NewSQLConn(db), func() { db.Close() }, nil
	}

	pc, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, nil, err
	}
	pc.MaxConns = dc.PoolSize

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return core.NewPgxConn(pool), pool.Close, nil
}

// newLogger creates a new logger writing plain or JSON lines to output
func newLogger(format string, level zapcore.Level, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core

	if format == "json" {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), output, level)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), output, level)
	}
	return zap.New(core)
}
