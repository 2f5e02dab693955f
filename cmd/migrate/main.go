package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"clipgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var steps int
	flag.IntVar(&steps, "steps", 1, "number of migrations to roll back with the down command")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = strings.ToLower(flag.Arg(0))
	}

	m, err := infra.NewMigrator(strings.TrimSpace(os.Getenv("DATABASE_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down(steps)
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version %d dirty=%v\n", v, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", cmd, err)
		os.Exit(1)
	}
	if cmd != "version" {
		fmt.Printf("migrate %s: ok\n", cmd)
	}
}
