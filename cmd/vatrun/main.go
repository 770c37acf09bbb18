package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arden-pm/arden-pm/internal/app"
	"github.com/arden-pm/arden-pm/internal/platform/db"
	"github.com/arden-pm/arden-pm/internal/users"
	"github.com/arden-pm/arden-pm/internal/vat"
)

// vatrun drives the transition pass directly, without the worker, for
// operators and cron fallbacks. Exit code 0 on success, 1 on any
// infrastructure failure.
func main() {
	autoAssign := flag.Bool("auto-assign", false, "run round-robin assignment after the transition pass")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	cal, err := vat.NewCalendar(cfg.BusinessTimezone)
	if err != nil {
		logger.Error("load business calendar", slog.Any("error", err))
		os.Exit(1)
	}

	userService := users.NewService(users.NewRepository(pool))
	service := vat.NewService(vat.NewRepository(pool), userService, cal, logger, vat.ServiceConfig{
		CreationDay: cfg.VATCreationDay,
	})

	run, err := service.CheckTransitions(ctx)
	if err != nil {
		logger.Error("transition pass failed", slog.Any("error", err))
		os.Exit(1)
	}
	printSummary("transitions", run)

	if *autoAssign {
		assign, err := service.AutoAssign(ctx)
		if err != nil {
			logger.Error("auto-assign pass failed", slog.Any("error", err))
			os.Exit(1)
		}
		printSummary("assignments", assign)
	}
}

func printSummary(label string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%s: %+v\n", label, v)
		return
	}
	fmt.Printf("%s:\n%s\n", label, data)
}
