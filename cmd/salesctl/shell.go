package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xtxerr/salesdb/internal/client"
	"github.com/xtxerr/salesdb/internal/errors"
)

var errQuit = errors.New("quit")

type command struct {
	name  string
	usage string
	args  int // minimum argument count
	run   func(ctx context.Context, sh *shell, args []string) error
}

var commands []command

// Built in init because help refers back to the table.
func init() {
	commands = []command{
		{"register", "register <user>", 1, cmdRegister},
		{"login", "login <user>", 1, cmdLogin},
		{"add", "add <product> <quantity> <price>", 3, cmdAdd},
		{"qty", "qty <product> <days>", 2, cmdQuantity},
		{"volume", "volume <product> <days>", 2, cmdWindowFloat("volume", (*client.Client).TotalVolume)},
		{"avg", "avg <product> <days>", 2, cmdWindowFloat("average price", (*client.Client).AveragePrice)},
		{"max", "max <product> <days>", 2, cmdWindowFloat("max price", (*client.Client).MaxPrice)},
		{"quantile", "quantile <product> <days> <q>", 3, cmdQuantile},
		{"filter", "filter <days> <product>...", 2, cmdFilter},
		{"together", "together <productA> <productB>  (runs in background)", 2, cmdTogether},
		{"streak", "streak <product> <n>  (runs in background)", 2, cmdStreak},
		{"today", "today <product>", 1, cmdToday},
		{"status", "status", 0, cmdStatus},
		{"reconnect", "reconnect", 0, cmdReconnect},
		{"help", "help", 0, cmdHelp},
		{"quit", "quit", 0, func(context.Context, *shell, []string) error { return errQuit }},
	}
}

// shell runs salesctl commands against one client. Output from background
// waits may interleave with the prompt.
type shell struct {
	c            *client.Client
	readPassword func(label string) (string, error)

	mu       sync.Mutex
	out      io.Writer
	loggedIn string
	bg       sync.WaitGroup
}

func newShell(c *client.Client, out io.Writer, readPassword func(string) (string, error)) *shell {
	return &shell{c: c, out: out, readPassword: readPassword}
}

func (sh *shell) printf(format string, args ...any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fmt.Fprintf(sh.out, format+"\n", args...)
}

func (sh *shell) user() string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.loggedIn
}

// execute runs one input line. It returns errQuit for quit and otherwise
// prints errors itself.
func (sh *shell) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	for _, cmd := range commands {
		if cmd.name != fields[0] {
			continue
		}
		args := fields[1:]
		if len(args) < cmd.args {
			sh.printf("usage: %s", cmd.usage)
			return nil
		}
		err := cmd.run(ctx, sh, args)
		if err == errQuit {
			return err
		}
		if err != nil {
			sh.printf("error: %v", err)
		}
		return err
	}

	sh.printf("unknown command %q - type 'help'", fields[0])
	return nil
}

// wait blocks until every background command has finished.
func (sh *shell) wait() {
	sh.bg.Wait()
}

func (sh *shell) background(name string, fn func() (string, error)) {
	sh.bg.Add(1)
	go func() {
		defer sh.bg.Done()
		msg, err := fn()
		if err != nil {
			sh.printf("[%s] error: %v", name, err)
			return
		}
		sh.printf("[%s] %s", name, msg)
	}()
}

// =============================================================================
// Commands
// =============================================================================

func cmdRegister(ctx context.Context, sh *shell, args []string) error {
	pass, err := sh.readPassword("password: ")
	if err != nil {
		return err
	}
	msg, err := sh.c.Register(ctx, args[0], pass)
	if err != nil {
		return err
	}
	sh.printf("%s", msg)
	return nil
}

func cmdLogin(ctx context.Context, sh *shell, args []string) error {
	pass, err := sh.readPassword("password: ")
	if err != nil {
		return err
	}
	msg, err := sh.c.Login(ctx, args[0], pass)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	sh.loggedIn = args[0]
	sh.mu.Unlock()
	sh.printf("%s", msg)
	return nil
}

func cmdAdd(ctx context.Context, sh *shell, args []string) error {
	qty, err := parseInt32(args[1], "quantity")
	if err != nil {
		return err
	}
	price, err := parseFloat(args[2], "price")
	if err != nil {
		return err
	}
	msg, err := sh.c.AddEvent(ctx, args[0], qty, price)
	if err != nil {
		return err
	}
	sh.printf("%s", msg)
	return nil
}

func cmdQuantity(ctx context.Context, sh *shell, args []string) error {
	days, err := parseInt32(args[1], "days")
	if err != nil {
		return err
	}
	v, err := sh.c.TotalQuantity(ctx, args[0], days)
	if err != nil {
		return err
	}
	sh.printf("quantity of %s over %d days: %d", args[0], days, v)
	return nil
}

func cmdWindowFloat(label string, fn func(*client.Client, context.Context, string, int32) (float64, error)) func(context.Context, *shell, []string) error {
	return func(ctx context.Context, sh *shell, args []string) error {
		days, err := parseInt32(args[1], "days")
		if err != nil {
			return err
		}
		v, err := fn(sh.c, ctx, args[0], days)
		if err != nil {
			return err
		}
		sh.printf("%s of %s over %d days: %.4f", label, args[0], days, v)
		return nil
	}
}

func cmdQuantile(ctx context.Context, sh *shell, args []string) error {
	days, err := parseInt32(args[1], "days")
	if err != nil {
		return err
	}
	q, err := parseFloat(args[2], "quantile")
	if err != nil {
		return err
	}
	v, err := sh.c.PriceQuantile(ctx, args[0], days, q)
	if err != nil {
		return err
	}
	sh.printf("p%g price of %s over %d days: %.4f", q*100, args[0], days, v)
	return nil
}

func cmdFilter(ctx context.Context, sh *shell, args []string) error {
	days, err := parseInt32(args[0], "days")
	if err != nil {
		return err
	}
	res, err := sh.c.FilteredEvents(ctx, days, args[1:])
	if err != nil {
		return err
	}
	if len(res) == 0 {
		sh.printf("no events")
		return nil
	}

	products := make([]string, 0, len(res))
	for p := range res {
		products = append(products, p)
	}
	sort.Strings(products)
	for _, p := range products {
		sh.printf("%s:", p)
		for _, ev := range res[p] {
			sh.printf("  qty=%d price=%.2f at=%d", ev.Quantity, ev.Price, ev.Timestamp)
		}
	}
	return nil
}

func cmdTogether(ctx context.Context, sh *shell, args []string) error {
	a, b := args[0], args[1]
	sh.printf("waiting for %s and %s in the background", a, b)
	sh.background("together "+a+" "+b, func() (string, error) {
		return sh.c.AwaitSimultaneous(ctx, a, b)
	})
	return nil
}

func cmdStreak(ctx context.Context, sh *shell, args []string) error {
	n, err := parseInt32(args[1], "n")
	if err != nil {
		return err
	}
	product := args[0]
	sh.printf("waiting for %d sales of %s in the background", n, product)
	sh.background("streak "+product, func() (string, error) {
		return sh.c.AwaitConsecutive(ctx, product, n)
	})
	return nil
}

func cmdToday(ctx context.Context, sh *shell, args []string) error {
	t, err := sh.c.Today(ctx, args[0])
	if err != nil {
		return err
	}
	sh.printf("today %s: %d events, quantity %d, volume %.2f", args[0], t.Count, t.TotalQuantity, t.TotalVolume)
	return nil
}

func cmdStatus(ctx context.Context, sh *shell, _ []string) error {
	st, err := sh.c.Status(ctx)
	if err != nil {
		return err
	}
	sh.printf("epoch %d, next day id %d, retained %d, resident %d, waiting %d",
		st.Epoch, st.DayID, st.Retained, st.Resident, st.Waiters)
	return nil
}

func cmdReconnect(ctx context.Context, sh *shell, _ []string) error {
	if err := sh.c.Reconnect(ctx); err != nil {
		return err
	}
	sh.printf("reconnected")
	return nil
}

func cmdHelp(_ context.Context, sh *shell, _ []string) error {
	for _, cmd := range commands {
		sh.printf("  %s", cmd.usage)
	}
	return nil
}

func parseInt32(s, what string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", what, s)
	}
	return int32(v), nil
}

func parseFloat(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", what, s)
	}
	return v, nil
}
