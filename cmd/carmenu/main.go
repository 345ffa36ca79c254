package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/example/carmenu/internal/config"
	"github.com/example/carmenu/internal/entry"
	"github.com/example/carmenu/internal/headunit"
	"github.com/example/carmenu/internal/ipc"
	"github.com/example/carmenu/internal/logging"
	"github.com/example/carmenu/internal/security"
	"github.com/example/carmenu/internal/service"
)

type globalOptions struct {
	debug      bool
	configPath string
}

func main() {
	log.SetFlags(0)

	args, opts, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if opts.debug {
		logging.EnableDebug()
	}

	if err := handleCLI(opts, args); err != nil {
		log.Fatalf("%v", err)
	}
}

// parseGlobalFlags strips --debug and --config from anywhere in args so they
// can be given before or after the subcommand.
func parseGlobalFlags(args []string) ([]string, globalOptions, error) {
	var opts globalOptions
	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") {
			filtered = append(filtered, arg)
			continue
		}
		switch strings.ToLower(name) {
		case "debug":
			opts.debug = true
			if hasValue {
				switch strings.ToLower(value) {
				case "1", "true", "yes", "on":
				case "0", "false", "no", "off":
					opts.debug = false
				default:
					return nil, opts, fmt.Errorf("invalid value %q for --debug", value)
				}
			}
		case "config":
			if !hasValue {
				if i+1 >= len(args) {
					return nil, opts, errors.New("--config requires a path")
				}
				i++
				value = args[i]
			}
			opts.configPath = value
		default:
			filtered = append(filtered, arg)
		}
	}
	return filtered, opts, nil
}

func handleCLI(opts globalOptions, args []string) error {
	command := "run"
	if len(args) > 0 {
		command = normalizeCommand(args[0])
		args = args[1:]
	}

	switch command {
	case "run":
		return handleRun(opts, args)
	case "headunit":
		return handleHeadUnit(opts, args)
	case "add":
		return withCatalog(func(cat *config.Catalog, secret string) error { return handleAdd(cat, secret, args) })
	case "update":
		return withCatalog(func(cat *config.Catalog, secret string) error { return handleUpdate(cat, secret, args) })
	case "delete":
		return withCatalog(func(cat *config.Catalog, secret string) error { return handleDelete(cat, secret, args) })
	case "list":
		return withCatalog(func(cat *config.Catalog, _ string) error { return handleList(os.Stdout, cat) })
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func normalizeCommand(arg string) string {
	trimmed := strings.TrimLeft(arg, "-/")
	return strings.ToLower(trimmed)
}

func requireSecret() (string, error) {
	secret := config.ResolveSecret(os.Getenv)
	if secret == "" {
		return "", errors.New("CARMENU_SECRET environment variable is required")
	}
	return secret, nil
}

func withCatalog(fn func(cat *config.Catalog, secret string) error) error {
	secret, err := requireSecret()
	if err != nil {
		return err
	}
	cat, err := config.LoadCatalog(secret)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	return fn(cat, secret)
}

func handleRun(opts globalOptions, args []string) error {
	fs := newFlagSet("run")
	headUnit := fs.String("headunit", "", "head unit address (host:port, tcp://host:port or unix:///path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := requireSecret()
	if err != nil {
		return err
	}
	settings, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}
	if *headUnit != "" {
		settings.HeadUnit = *headUnit
	}

	svc, err := service.New(settings, secret)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	if len(reloadSignals) > 0 {
		signal.Notify(hup, reloadSignals...)
		defer signal.Stop(hup)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Println("reloading catalog")
				svc.Refresh()
			}
		}
	}()

	return svc.Run(ctx)
}

func handleHeadUnit(opts globalOptions, args []string) error {
	fs := newFlagSet("headunit")
	listen := fs.String("listen", "", "address to listen on (defaults to the configured head unit)")
	open := fs.Bool("open", false, "accept sessions without a token")
	interactive := fs.Bool("interactive", true, "read list/select commands from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}
	endpoint := ipc.DefaultEndpoint()
	switch {
	case *listen != "":
		endpoint = ipc.ParseEndpoint(*listen)
	case settings.HeadUnit != "":
		endpoint = ipc.ParseEndpoint(settings.HeadUnit)
	}

	token := ""
	if !*open {
		secret, err := requireSecret()
		if err != nil {
			return fmt.Errorf("%w (or pass --open)", err)
		}
		token = security.ResolveSessionToken(secret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := headunit.New(endpoint, token)
	if *interactive {
		go readConsole(ctx, server, os.Stdin, os.Stdout)
	}
	return server.Serve(ctx)
}

// readConsole lets an operator inspect the simulated menu and pick entries.
func readConsole(ctx context.Context, server *headunit.Server, in io.Reader, out io.Writer) {
	select {
	case <-ctx.Done():
		return
	case <-server.Ready():
	}
	fmt.Fprintln(out, "commands: list, select <name>, stats")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch strings.ToLower(cmd) {
		case "":
		case "list":
			printSnapshot(out, server.Snapshot())
		case "select":
			sent, ok := server.SelectName(strings.TrimSpace(arg))
			if !ok {
				fmt.Fprintf(out, "no entry named %q\n", arg)
				continue
			}
			fmt.Fprintf(out, "delivered %d event(s)\n", sent)
		case "stats":
			st := server.Stats()
			fmt.Fprintf(out, "sessions=%d creates=%d disposals=%d registrations=%d events=%d rejected=%d\n",
				st.ActiveSessions, st.Creates, st.Disposals, st.Registrations, st.EventsDelivered, st.RejectedFrames)
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
}

func printSnapshot(out io.Writer, roots []headunit.Root) {
	if len(roots) == 0 {
		fmt.Fprintln(out, "no application menu registered")
		return
	}
	for _, root := range roots {
		fmt.Fprintf(out, "root %d listeners=%s\n", root.Handle, strings.Join(root.Listeners, ","))
		for _, e := range root.Entries {
			fmt.Fprintf(out, "  %-32s %-20s\n", e.ID, truncate(e.Name, 20))
		}
	}
}

type itemFlags struct {
	key      *string
	name     *string
	category *string
	icon     *string
	command  *string
	args     *string
	workDir  *string
}

func addItemFlags(fs *pflag.FlagSet) itemFlags {
	return itemFlags{
		key:      fs.String("key", "", "stable key, unique within the catalog"),
		name:     fs.String("name", "", "display name"),
		category: fs.String("category", "", "menu section: "+categoryList()),
		icon:     fs.String("icon", "", "path to a PNG, JPEG, GIF, BMP or WebP icon"),
		command:  fs.String("command", "", "command run when the entry is selected"),
		args:     fs.String("args", "", "comma-separated command arguments"),
		workDir:  fs.String("workdir", "", "working directory for command execution"),
	}
}

func handleAdd(cat *config.Catalog, secret string, args []string) error {
	fs := newFlagSet("add")
	flags := addItemFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	item := config.CatalogEntry{
		ID:         uuid.NewString(),
		Key:        strings.TrimSpace(*flags.key),
		Name:       strings.TrimSpace(*flags.name),
		Category:   strings.TrimSpace(*flags.category),
		IconPath:   *flags.icon,
		Command:    *flags.command,
		Arguments:  parseList(*flags.args),
		WorkingDir: *flags.workDir,
		CreatedUTC: now,
		UpdatedUTC: now,
	}
	if item.Key == "" {
		item.Key = item.ID
	}

	if err := validateItem(item); err != nil {
		return err
	}
	if err := cat.Add(item); err != nil {
		return err
	}
	if err := config.SaveCatalog(cat, secret); err != nil {
		return err
	}

	fmt.Printf("Added menu entry %s (%s)\n", item.ID, item.Key)
	return nil
}

func handleUpdate(cat *config.Catalog, secret string, args []string) error {
	fs := newFlagSet("update")
	id := fs.String("id", "", "id or key of the entry to update")
	flags := addItemFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("missing --id for update")
	}

	item, ok := cat.Lookup(*id)
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrEntryNotFound, *id)
	}
	if fs.Changed("key") {
		item.Key = strings.TrimSpace(*flags.key)
	}
	if fs.Changed("name") {
		item.Name = strings.TrimSpace(*flags.name)
	}
	if fs.Changed("category") {
		item.Category = strings.TrimSpace(*flags.category)
	}
	if fs.Changed("icon") {
		item.IconPath = *flags.icon
	}
	if fs.Changed("command") {
		item.Command = *flags.command
	}
	if fs.Changed("args") {
		item.Arguments = parseList(*flags.args)
	}
	if fs.Changed("workdir") {
		item.WorkingDir = *flags.workDir
	}
	item.UpdatedUTC = time.Now().UTC().Format(time.RFC3339)

	if err := validateItem(item); err != nil {
		return err
	}
	if err := cat.Replace(*id, item); err != nil {
		return err
	}
	if err := config.SaveCatalog(cat, secret); err != nil {
		return err
	}

	fmt.Printf("Updated menu entry %s\n", item.ID)
	return nil
}

func handleDelete(cat *config.Catalog, secret string, args []string) error {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "id or key of the entry to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("missing --id for delete")
	}

	removed, err := cat.Remove(*id)
	if err != nil {
		return err
	}
	if err := config.SaveCatalog(cat, secret); err != nil {
		return err
	}

	fmt.Printf("Deleted menu entry %s\n", removed.ID)
	return nil
}

func handleList(out io.Writer, cat *config.Catalog) error {
	if len(cat.Entries) == 0 {
		fmt.Fprintln(out, "No menu entries configured")
		return nil
	}

	items := append([]config.CatalogEntry(nil), cat.Entries...)
	sort.SliceStable(items, func(i, j int) bool {
		wi, wj := entry.Weight(items[i].Name), entry.Weight(items[j].Name)
		if wi != wj {
			return wi > wj
		}
		return items[i].Name < items[j].Name
	})

	fmt.Fprintf(out, "%-38s %-16s %-20s %-18s %6s\n", "ID", "Key", "Name", "Category", "Weight")
	for _, item := range items {
		fmt.Fprintf(out, "%-38s %-16s %-20s %-18s %6d\n",
			item.ID, truncate(item.Key, 16), truncate(item.Name, 20), item.Category, entry.Weight(item.Name))
	}
	return nil
}

func validateItem(item config.CatalogEntry) error {
	if item.Key == "" {
		return errors.New("entries require --key")
	}
	if strings.ContainsAny(item.Key, " \t") {
		return fmt.Errorf("key %q must not contain whitespace", item.Key)
	}
	if item.Name == "" {
		return errors.New("entries require --name")
	}
	if _, err := entry.ParseCategory(item.Category); err != nil {
		return fmt.Errorf("entries require --category (%s): %w", categoryList(), err)
	}
	if item.IconPath != "" {
		if _, err := os.Stat(item.IconPath); err != nil {
			return fmt.Errorf("icon %s: %w", item.IconPath, err)
		}
	}
	return nil
}

func categoryList() string {
	names := make([]string, 0, len(entry.Categories()))
	for _, c := range entry.Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
