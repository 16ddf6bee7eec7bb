// salesctl is an interactive client for salesdbd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/xtxerr/salesdb/config"
	"github.com/xtxerr/salesdb/internal/client"
	"github.com/xtxerr/salesdb/internal/logging"
)

// EnvServer overrides the default server address.
const EnvServer = "SALESDB_SERVER"

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr(EnvServer, config.DefaultServerAddress), "server address")
	debug := flag.Bool("debug", false, "log client internals to stderr")
	flag.Parse()

	level := logging.ParseLevel("warn")
	if *debug {
		level = logging.ParseLevel("debug")
	}
	logging.InitWriter(os.Stderr, level, false)

	cfg := client.DefaultConfig()
	cfg.Addr = *addr

	c, err := client.Dial(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "salesctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	sh := newShell(c, os.Stdout, readPassword)
	fmt.Printf("connected to %s - type 'help' for commands\n", *addr)

	p := prompt.New(
		func(line string) {
			if sh.execute(context.Background(), line) == errQuit {
				c.Close()
				os.Exit(0)
			}
		},
		complete,
		prompt.OptionPrefix("salesdb> "),
		prompt.OptionTitle("salesctl"),
		prompt.OptionLivePrefix(func() (string, bool) {
			if u := sh.user(); u != "" {
				return u + "@salesdb> ", true
			}
			return "", false
		}),
	)
	p.Run()
}

func readPassword(label string) (string, error) {
	fmt.Print(label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return string(b), err
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	s := make([]prompt.Suggest, 0, len(commands))
	for _, cmd := range commands {
		s = append(s, prompt.Suggest{Text: cmd.name, Description: cmd.usage})
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
