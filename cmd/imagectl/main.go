package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"image-vault/internal/logging"
	"image-vault/internal/transfer"
)

const (
	defaultServer = "http://localhost:8080"
	serverEnv     = "IMAGE_VAULT_URL"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, failing remaining transfers...")
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logging.SetOutput(stderr)
	logging.SetLevel(logging.LevelError)

	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "upload":
		return runUpload(ctx, args[1:], stdout, stderr)
	case "export":
		return runExport(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", sanitizeCommand(args[0]))
		printUsage(stderr)
		return 2
	}
}

// sanitizeCommand keeps only [a-zA-Z0-9_-] so user input cannot inject
// terminal control sequences.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ImageVault batch transfer")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: imagectl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  upload  -config jobs.json [-folder name]")
	fmt.Fprintln(w, "  export  -dest dir [-folder name] [-mimetype type]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintf(w, "  -server URL   image-vault server (default $%s or %s)\n", serverEnv, defaultServer)
	fmt.Fprintln(w, "  -v            debug logging on stderr")
}

type commonFlags struct {
	server  string
	verbose bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	server := os.Getenv(serverEnv)
	if server == "" {
		server = defaultServer
	}

	common := &commonFlags{}
	fs.StringVar(&common.server, "server", server, "image-vault server URL")
	fs.BoolVar(&common.verbose, "v", false, "debug logging")
	return fs, common
}

func (c *commonFlags) client() (*transfer.Client, error) {
	if c.verbose {
		logging.SetLevel(logging.LevelDebug)
	}
	return transfer.NewClient(c.server, nil)
}

func runUpload(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("upload", stderr)
	configPath := fs.String("config", "", "job file listing folders and extensions")
	folder := fs.String("folder", "", "server folder to upload into")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "Error: -config is required")
		return 2
	}

	specs, err := transfer.LoadJob(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	client, err := common.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	summary := transfer.NewBatchUploader(client, *folder).Run(ctx, specs, newConsole(stdout))
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func runExport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("export", stderr)
	dest := fs.String("dest", "", "destination directory")
	folder := fs.String("folder", "", "only export this server folder")
	mimeType := fs.String("mimetype", "", "only export this content type")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dest == "" {
		fmt.Fprintln(stderr, "Error: -dest is required")
		return 2
	}

	destDir, err := prepareDest(*dest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	client, err := common.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	assets, err := client.ListAll(ctx, *folder, *mimeType)
	if err != nil {
		fmt.Fprintf(stderr, "Error: list images: %v\n", err)
		return 1
	}

	out := newConsole(stdout)
	if len(assets) == 0 {
		out.OnComplete(transfer.Event{Message: "No images matched, nothing to export", Severity: transfer.SeverityInfo})
		return 0
	}
	out.OnProgress(transfer.Event{
		Message:  fmt.Sprintf("Exporting %d images to %s", len(assets), destDir),
		Severity: transfer.SeverityInfo,
	})

	summary := transfer.NewBatchExporter(client).Run(ctx, transfer.ExportItems(assets), destDir, out)
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

// prepareDest creates dir if needed and checks it accepts new files.
func prepareDest(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	check, err := os.CreateTemp(abs, ".imagectl-*")
	if err != nil {
		return "", fmt.Errorf("destination %s is not writable: %w", abs, err)
	}
	name := check.Name()
	err = errors.Join(check.Close(), os.Remove(name))
	if err != nil {
		return "", fmt.Errorf("destination %s: %w", abs, err)
	}
	return abs, nil
}

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
)

// console prints batch events, coloured when out is a terminal.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func newConsole(out io.Writer) *console {
	c := &console{out: out}
	if f, ok := out.(*os.File); ok {
		c.color = term.IsTerminal(int(f.Fd()))
	}
	return c
}

func (c *console) OnProgress(e transfer.Event) { c.print(e) }

func (c *console) OnComplete(e transfer.Event) { c.print(e) }

func (c *console) print(e transfer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var color string
	switch e.Severity {
	case transfer.SeverityError:
		color = ansiRed
	case transfer.SeveritySuccess:
		color = ansiGreen
	}

	if c.color {
		if color == "" {
			fmt.Fprintln(c.out, e.Message)
			return
		}
		fmt.Fprintf(c.out, "%s%s%s\n", color, e.Message, ansiReset)
		return
	}
	fmt.Fprintf(c.out, "[%s] %s\n", e.Severity, e.Message)
}
