package cmd

import (
	"context"
	"fmt"
	log2 "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/filebox/config"
	"github.com/pterodactyl/filebox/filesystem"
	"github.com/pterodactyl/filebox/internal/notify"
	"github.com/pterodactyl/filebox/loggers/cli"
	"github.com/pterodactyl/filebox/metrics"
	"github.com/pterodactyl/filebox/router"
	"github.com/pterodactyl/filebox/system"
)

var (
	configPath  = config.DefaultLocation
	rootDir     = ""
	debug       = false
	showVersion = false
)

var root = &cobra.Command{
	Use:   "filebox",
	Short: "A sandboxed file manager exposed over HTTP",
	Long:  ``,
	Run:   rootCmdRun,
}

func init() {
	root.PersistentFlags().BoolVar(&showVersion, "version", false, "show the version and exit")
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run filebox in debug mode")
	root.Flags().StringVar(&rootDir, "root", "", "override the root directory all file operations are confined to")

	root.AddCommand(newConfigureCommand())
	root.AddCommand(newDiagnosticsCommand())
}

// Execute calls cobra to handle cli commands
func Execute() error {
	return root.Execute()
}

func rootCmdRun(*cobra.Command, []string) {
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}

	initConfig()
	c := overrideRootDirectory(rootDir)

	printLogo()
	if err := configureLogging(c.System.LogDirectory, c.Debug); err != nil {
		log.WithField("error", err).Fatal("failed to configure logging")
		return
	}

	log.WithField("path", c.GetPath()).Info("loaded configuration from path")
	if c.Debug {
		log.Debug("running in debug mode")
	}

	if err := c.System.ConfigureDirectories(); err != nil {
		log.WithField("error", err).Fatal("failed to configure system directories")
		return
	}

	fs, err := filesystem.New(c.System.RootDirectory, filesystem.Settings{
		TreeDepth:        c.System.TreeDepth,
		ListingWorkers:   c.System.ListingWorkers,
		CompressionLevel: c.Archives.CompressionLevel,
		WriteLimit:       int64(c.Archives.WriteLimit) * 1024 * 1024,
	})
	if err != nil {
		log.WithField("error", err).Fatal("failed to initialize the root filesystem")
		return
	}
	log.WithField("root", fs.Path()).Info("serving files from root directory")

	metrics.Initialize()

	log.WithFields(log.Fields{
		"host_address": c.Api.Host,
		"host_port":    c.Api.Port,
		"metrics":      c.Api.Metrics,
	}).Info("configuring internal webserver")

	s := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port),
		Handler: router.Configure(fs),
	}
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.WithField("error", err).Fatal("failed to configure HTTP server")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("received shutdown signal, stopping webserver")
		if err := notify.Stopping(); err != nil {
			log.WithField("error", err).Warn("failed to notify service manager of shutdown")
		}
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			log.WithField("error", err).Error("failed to gracefully stop webserver")
		}
	}()

	if err := notify.Status("serving " + fs.Path()); err != nil {
		log.WithField("error", err).Warn("failed to notify service manager of status")
	}
	if err := notify.Readiness(); err != nil {
		log.WithField("error", err).Warn("failed to notify service manager of readiness")
	}
	log.WithField("address", l.Addr().String()).Info("webserver is now listening")
	if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithField("error", err).Fatal("failed to serve HTTP requests")
	}
	// Serve returns as soon as Shutdown is called, wait for in-flight requests.
	<-done
}

// Reads the configuration from the disk and then sets up the global singleton
// with all the configuration values.
func initConfig() {
	if !strings.HasPrefix(configPath, "/") {
		d, err := os.Getwd()
		if err != nil {
			log2.Fatalf("cmd/root: could not determine directory: %s", err)
		}
		configPath = filepath.Clean(filepath.Join(d, configPath))
	}
	if err := config.FromFile(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithConfigurationNotice()
		}
		log2.Fatalf("cmd/root: error while reading configuration file: %+v", err)
	}
	config.SetDebugViaFlag(debug)
}

// Replaces the root directory of the global configuration when one was passed
// on the command line and returns the configuration to use.
func overrideRootDirectory(dir string) *config.Configuration {
	if dir == "" {
		return config.Get()
	}
	c := *config.Get()
	c.System.RootDirectory = dir
	config.Set(&c)
	return &c
}

// Configures the global logger for apex so that we can call it from any
// location in the code without having to pass around a logger instance. Log
// files are only written when a log directory is configured.
func configureLogging(logDir string, debug bool) error {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if logDir == "" {
		log.SetHandler(cli.Default)
		return nil
	}

	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return errors.WithStack(err)
	}
	p := filepath.Join(logDir, "filebox.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.WithMessage(err, "failed to open process log file")
	}

	log.SetHandler(multi.New(
		cli.Default,
		cli.New(w.File, false),
	))
	log.WithField("path", p).Info("writing log files to disk")

	return nil
}

// Prints the filebox logo, nothing special here!
func printLogo() {
	fmt.Printf(colorstring.Color(`
    ____ _ __     __
   / __/(_) /__  / /  ___ __ __
  / _/ / / / -_)/ _ \/ _ \\ \ /
 /_/  /_/_/\__//_.__/\___/_\_\  [bold]v%s[reset]

This software is made available under the terms of the MIT license.%s`), system.Version, "\n\n")
}

func exitWithConfigurationNotice() {
	fmt.Print(colorstring.Color(`
[_red_][white][bold]Error: Configuration File Not Found[reset]

Filebox was not able to locate your configuration file, and therefore is not
able to complete its boot process.

Please ensure you have copied your configuration file into the default
location, or have provided the --config flag to use a custom location. A
configuration file with default values can be created by running:

    filebox configure

Default Location: /etc/filebox/config.yml

[yellow]This is not a bug with this software. Please do not make a bug report
for this issue, it will be closed.[reset]

`))
	os.Exit(1)
}
