// hashindex builds and inspects Robin-Hood hash indexes over append-only
// log files.
//
// Usage:
//
//	hashindex build [flags] <log-file> <index-file>
//	hashindex shell <index-file> <log-file>
//
// Flags for 'build':
//
//	--sparsity   float   slots-per-live-entry ratio (default from config, floor 1.3)
//	--hash       string  hash width: auto, 32, or 64 (default from config)
//	--fsync              fsync the index file before returning
//	--seed       int     pin the hash seed (negative = random); same log + same
//	                     seed reproduces the index byte for byte
//	--verbose            print build diagnostics to stderr
//
// Commands (in 'shell'):
//
//	get <key>             Look up a key and print its value
//	scan [limit]          List live entries in slot order
//	info                  Show index statistics
//	live <key> <pos> <i>  Check whether (key, blockPos, entryIndex) is still live
//	help                  Show this help
//	exit / quit / q       Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/calvinalkan/hashindex/internal/xlog"
	"github.com/calvinalkan/hashindex/pkg/hashindex"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "build":
		return runBuild(args[1:])
	case "shell":
		return runShell(args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  hashindex build [flags] <log-file> <index-file>\n")
	fmt.Fprintf(os.Stderr, "  hashindex shell <index-file> <log-file>\n")
}

func runBuild(args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	cfg, err := LoadConfig(workDir)
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("build", pflag.ExitOnError)
	sparsity := fs.Float64("sparsity", cfg.Sparsity, "slots-per-live-entry ratio (floor 1.3)")
	hashStr := fs.String("hash", hashBitsToFlag(cfg.HashBits), "hash width: auto, 32, or 64")
	fsync := fs.Bool("fsync", cfg.Fsync, "fsync the index file before returning")
	seed := fs.Int64("seed", -1, "pin the hash seed (negative = random)")
	verbose := fs.Bool("verbose", false, "print build diagnostics to stderr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hashindex build [flags] <log-file> <index-file>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing log-file or index-file")
	}

	hashType, err := parseHashFlag(*hashStr)
	if err != nil {
		return err
	}

	opts := hashindex.BuildOptions{
		HashType: hashType,
		Sparsity: *sparsity,
		Fsync:    *fsync,
	}
	if *seed >= 0 {
		pinned := uint32(*seed)
		opts.Seed = &pinned
	}
	if *verbose {
		opts.Logger = xlog.New(os.Stderr, true)
	}

	logPath, indexPath := fs.Arg(0), fs.Arg(1)
	stats, err := hashindex.Build(logPath, indexPath, opts)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	fmt.Printf("Built %s\n", indexPath)
	fmt.Printf("  capacity:           %d\n", stats.Capacity)
	fmt.Printf("  live entries:       %d\n", stats.NumEntries)
	fmt.Printf("  total displacement: %d\n", stats.TotalDisplacement)
	fmt.Printf("  max displacement:   %d\n", stats.MaxDisplacement)
	fmt.Printf("  hash collisions:    %d\n", stats.HashCollisions)
	return nil
}

func hashBitsToFlag(bits int) string {
	switch bits {
	case 32:
		return "32"
	case 64:
		return "64"
	default:
		return "auto"
	}
}

func parseHashFlag(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return hashindex.HashAuto, nil
	case "32":
		return hashindex.Hash32, nil
	case "64":
		return hashindex.Hash64, nil
	default:
		return 0, fmt.Errorf("invalid --hash value %q: want auto, 32, or 64", s)
	}
}

func runShell(args []string) error {
	fs := pflag.NewFlagSet("shell", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hashindex shell <index-file> <log-file>\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing index-file or log-file")
	}

	r, err := hashindex.Open(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer r.Close()

	repl := &REPL{reader: r}
	return repl.Run()
}

// REPL is the interactive inspector loop over an opened index and its log.
type REPL struct {
	reader *hashindex.Reader
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hashindex_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("hashindex shell (entries=%d, capacity=%d)\n", r.reader.NumEntries(), r.reader.Capacity())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("hashindex> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "get":
			r.cmdGet(cmdArgs)
		case "scan":
			r.cmdScan(cmdArgs)
		case "info":
			r.cmdInfo()
		case "live":
			r.cmdLive(cmdArgs)
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "scan", "info", "live", "help", "exit", "quit", "q"}
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <key>             Look up a key and print its value")
	fmt.Println("  scan [limit]          List live entries in slot order")
	fmt.Println("  info                  Show index statistics")
	fmt.Println("  live <key> <pos> <i>  Check whether (key, blockPos, entryIndex) is still live")
	fmt.Println("  help                  Show this help")
	fmt.Println("  exit / quit / q       Exit")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <key>")
		return
	}

	entry, ok, err := r.reader.Get([]byte(args[0]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if !ok {
		fmt.Println("(not found)")
		return
	}

	value, err := entry.Bytes()
	if err != nil {
		fmt.Printf("Error reading value: %v\n", err)
		return
	}
	fmt.Printf("Key:   %s\n", entry.Key)
	fmt.Printf("Value: %s\n", value)
}

func (r *REPL) cmdScan(args []string) {
	limit := -1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			fmt.Println("Usage: scan [limit]")
			return
		}
		limit = n
	}

	count := 0
	err := r.reader.Scan(func(key []byte, entry *hashindex.Entry) bool {
		value, err := entry.Bytes()
		if err != nil {
			fmt.Printf("Error reading value for %q: %v\n", key, err)
			return false
		}
		fmt.Printf("%s = %s\n", key, value)
		count++
		return limit < 0 || count < limit
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("(%d entries)\n", count)
}

func (r *REPL) cmdInfo() {
	fmt.Printf("Capacity:           %d\n", r.reader.Capacity())
	fmt.Printf("Live entries:       %d\n", r.reader.NumEntries())
	fmt.Printf("Total displacement: %d\n", r.reader.TotalDisplacement())
	fmt.Printf("Max displacement:   %d\n", r.reader.MaxDisplacement())
	fmt.Printf("Hash collisions:    %d\n", r.reader.HashCollisions())
	fmt.Printf("Total key bytes:    %d\n", r.reader.TotalKeyBytes())
	fmt.Printf("Total value bytes:  %d\n", r.reader.TotalValueBytes())
}

func (r *REPL) cmdLive(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: live <key> <blockPos> <entryIndex>")
		return
	}
	pos, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing blockPos: %v\n", err)
		return
	}
	idx, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Printf("Error parsing entryIndex: %v\n", err)
		return
	}
	fmt.Println(r.reader.IsLive([]byte(args[0]), pos, idx))
}
