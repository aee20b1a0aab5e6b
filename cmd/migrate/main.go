// Command migrate applies the compass schema migrations.
//
//	migrate [-dsn url] up|down|version
//	migrate [-dsn url] steps N
//	migrate [-dsn url] force VERSION
//
// Without -dsn the connection comes from COMPASS_DB_DSN, then from the
// [database] section of config.toml and its COMPASS_DB_* overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/schema"
)

const envDSN = "COMPASS_DB_DSN"

func main() {
	dsn := flag.String("dsn", "", "postgres:// connection URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	url, err := resolveDSN(*dsn)
	if err != nil {
		log.Fatal(err)
	}

	m, err := schema.New(url)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	msg, err := run(m, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
	fmt.Println(msg)
}

func usage() {
	fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [-dsn url] up|down|version|steps N|force VERSION")
	flag.PrintDefaults()
}

func resolveDSN(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envDSN); v != "" {
		return v, nil
	}
	db, err := config.LoadDatabase()
	if err != nil {
		return "", err
	}
	return db.URL(), nil
}

func run(m *migrate.Migrate, cmd string, args []string) (string, error) {
	switch cmd {
	case "up":
		if err := ignoreNoChange(m.Up()); err != nil {
			return "", err
		}
		return "migrations applied", nil
	case "down":
		if err := ignoreNoChange(m.Down()); err != nil {
			return "", err
		}
		return "migrations reverted", nil
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "version: none", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("version: %d, dirty: %v", v, dirty), nil
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return "", err
		}
		if err := ignoreNoChange(m.Steps(n)); err != nil {
			return "", err
		}
		return fmt.Sprintf("applied %d migration steps", n), nil
	case "force":
		v, err := intArg(args)
		if err != nil {
			return "", err
		}
		if err := m.Force(v); err != nil {
			return "", err
		}
		return fmt.Sprintf("forced to version %d", v), nil
	default:
		return "", fmt.Errorf("unknown command")
	}
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one integer argument")
	}
	return strconv.Atoi(args[0])
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
