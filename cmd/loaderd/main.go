/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command loaderd is the execution engine daemon: it wires one
// internal/app.App together and runs it as one replica, or applies
// the loader schema migrations, depending on the subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/signaldata/loaderengine/internal/app"
	"github.com/signaldata/loaderengine/internal/config"
	"github.com/signaldata/loaderengine/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: loaderd <serve|migrate> [flags]")
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.WithError(err).Warn("error closing application resources")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Logger.WithField("replica", a.Replica.Name()).Info("starting loaderd")
	if err := a.Run(ctx); err != nil {
		a.Logger.WithError(err).Error("loaderd exited with error")
		os.Exit(1)
	}
	a.Logger.Info("loaderd shut down cleanly")
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	dir := fs.String("dir", "migrations", "directory containing the goose migration files")
	_ = fs.Parse(args)

	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()

	dbCfg := database.DefaultConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.Database
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.LoadFromEnv()

	db, err := database.Connect(dbCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to central store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "setting goose dialect: %v\n", err)
		os.Exit(1)
	}

	if err := goose.RunContext(context.Background(), command, db.DB, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "running migrations: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("command", command).Info("migrations applied")
}
