// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Command pinoq formats, inspects, and mounts pinoq containers.
//
// Usage:
//
//	pinoq --mkfs ASPECTS BLOCKS DISK [PASSWORD]
//	pinoq --mount CONFIG
//	pinoq --inspect DISK
//	pinoq --passwd ASPECT DISK
//	pinoq --version
//
// A container holds several mutually isolated encrypted filesystems
// ("aspects"); --mount unlocks one of them with its password and
// serves it as a FUSE filesystem until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pinoq-fs/pinoq/lib/config"
	"github.com/pinoq-fs/pinoq/lib/container"
	"github.com/pinoq-fs/pinoq/lib/daemon"
	"github.com/pinoq-fs/pinoq/lib/pinoqfs"
	"github.com/pinoq-fs/pinoq/lib/secret"
	"github.com/pinoq-fs/pinoq/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("pinoq", pflag.ContinueOnError)
	mkfs := flags.Bool("mkfs", false, "format a new container: ASPECTS BLOCKS DISK [PASSWORD]")
	mountConfig := flags.String("mount", "", "mount an aspect using the given config file")
	inspectDisk := flags.String("inspect", "", "print the public header of a container")
	passwd := flags.Bool("passwd", false, "change one aspect's password: ASPECT DISK")
	allowOther := flags.Bool("allow-other", false, "permit other users to access the mount")
	logLevel := flags.String("log-level", "info", "log verbosity: debug, info, warn, error")
	showVersion := flags.Bool("version", false, "print version and exit")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage:\n  pinoq --mkfs ASPECTS BLOCKS DISK [PASSWORD]\n  pinoq --mount CONFIG\n  pinoq --inspect DISK\n  pinoq --passwd ASPECT DISK\n\nflags:\n%s", flags.FlagUsages())
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	if *showVersion {
		fmt.Printf("pinoq %s\n", version.Info())
		return 0
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	switch {
	case *mkfs:
		return runMkfs(flags.Args(), logger)
	case *mountConfig != "":
		return runMount(*mountConfig, *allowOther, logger)
	case *inspectDisk != "":
		return runInspect(*inspectDisk)
	case *passwd:
		return runPasswd(flags.Args())
	}

	flags.Usage()
	return 2
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func runMkfs(args []string, logger *slog.Logger) int {
	if len(args) < 3 || len(args) > 4 {
		fmt.Fprintln(os.Stderr, "usage: pinoq --mkfs ASPECTS BLOCKS DISK [PASSWORD]")
		return 2
	}
	aspects, err := parseUint32(args[0], "aspect count")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	blocks, err := parseUint32(args[1], "block count")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	disk := args[2]

	var password *secret.Buffer
	if len(args) == 4 {
		password, err = secret.NewFromBytes([]byte(args[3]))
	} else {
		password, err = promptPassword("Password: ", true)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer password.Close()

	err = container.Format(disk, container.FormatOptions{
		AspectCount:  aspects,
		SizeInBlocks: blocks,
		Password:     password,
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runMount(configPath string, allowOther bool, logger *slog.Logger) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	info, err := os.Stat(cfg.Mount)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "error: mount directory %s does not exist\n", cfg.Mount)
		return 2
	}

	var password *secret.Buffer
	if cfg.Current.Password != "" {
		password, err = secret.NewFromBytes([]byte(cfg.Current.Password))
	} else {
		password, err = promptPassword(fmt.Sprintf("Password for aspect %d: ", cfg.Current.Aspect), false)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer password.Close()

	d, err := daemon.New(daemon.Options{
		Disk:       cfg.Disk,
		Mountpoint: cfg.Mount,
		Aspect:     cfg.Current.Aspect,
		Mount:      pinoqfs.Mounter(allowOther, logger),
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("terminating", "signal", sig.String())
		cancel()
		// Further signals are swallowed while the daemon drains.
		for range signals {
		}
	}()

	if err := d.Run(ctx, password); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runInspect(disk string) int {
	c, err := container.OpenInspect(disk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer c.Close()

	header := c.Header()
	fmt.Printf("container:         %s\n", disk)
	fmt.Printf("fingerprint:       %s\n", c.Fingerprint())
	fmt.Printf("aspects:           %d\n", header.AspectCount)
	fmt.Printf("blocks per aspect: %d\n", header.BlocksPerAspect)
	fmt.Printf("block size:        %d\n", header.BlockSize)
	fmt.Printf("kdf:               argon2id t=%d m=%dKiB p=%d\n",
		header.KDF.Time, header.KDF.MemoryKiB, header.KDF.Parallelism)
	fmt.Printf("owner:             %d:%d\n", header.UID, header.GID)
	return 0
}

func runPasswd(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: pinoq --passwd ASPECT DISK")
		return 2
	}
	aspectIndex, err := parseUint32(args[0], "aspect index")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	disk := args[1]

	oldPassword, err := promptPassword("Current password: ", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer oldPassword.Close()

	newPassword, err := promptPassword("New password: ", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer newPassword.Close()

	if err := daemon.Rekey(disk, aspectIndex, oldPassword, newPassword); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("aspect %d re-sealed\n", aspectIndex)
	return 0
}

// promptPassword reads a password from the terminal with echo
// disabled. With confirm set, it prompts twice and requires a match.
func promptPassword(prompt string, confirm bool) (*secret.Buffer, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal available for password prompt")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		secret.Zero(first)
		return nil, fmt.Errorf("empty password")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading password confirmation: %w", err)
		}
		match := string(first) == string(second)
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passwords do not match")
		}
	}

	buffer, err := secret.NewFromBytes(first)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	return buffer, nil
}

func parseUint32(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint32(v), nil
}
