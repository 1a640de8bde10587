// shmcachectl is an interactive CLI for inspecting and exercising a
// shmcache share file.
//
// Usage:
//
//	shmcachectl <share-file>            Open (creating if needed) a share file
//	shmcachectl -n <pages> -s <size> <share-file>
//
// Commands (in REPL):
//
//	get <key>                 Look up a key
//	set <key> <value> [ttl]   Store a key with an optional TTL in seconds
//	del <key>                 Delete a key
//	keys [limit]              List live keys
//	clear                     Discard every entry
//	purge                     Discard only expired entries
//	empty [true|1]            Discard everything (or only expired), writing back dirty entries
//	stats                     Show cumulative counters
//	export <path>             Write a stats snapshot to path atomically
//	help                      Show this help
//	exit / quit / q           Exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coreslate/shmkv/pkg/fs"
	"github.com/coreslate/shmkv/pkg/shmcache"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("shmcachectl", flag.ExitOnError)

	numPages := fs.Uint32P("num-pages", "n", 0, "number of pages (default 89)")
	pageSize := fs.StringP("page-size", "s", "", "page size, e.g. 64k (default 64k)")
	initSlots := fs.Uint32P("init-slots", "i", 0, "initial slot directory size per page")
	lockTimeout := fs.String("lock-timeout", "", "page lock timeout, e.g. 10 or 10s (default 10s)")
	defaultTTL := fs.String("default-ttl", "", "default entry TTL, e.g. 1h or 0 for none")
	initFile := fs.Bool("init", false, "force (re)initialize every page")
	testFile := fs.Bool("test", false, "run integrity check and repair on attach")
	writeBack := fs.Bool("write-back", false, "defer write_cb until eviction/empty instead of firing on every set")
	cacheNotFound := fs.Bool("cache-not-found", false, "memoize read-through misses as immediately-expiring tombstones")
	configPath := fs.String("config", "", "path to a JSONC config file (default ./.shmcachectl.json)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shmcachectl [options] <share-file>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()

		return errors.New("missing share file path")
	}

	sharePath := fs.Arg(0)

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = configFileName
	}

	fileCfg, err := loadFileConfig(cfgPath)
	if err != nil {
		return err
	}

	opts, err := buildOptions(sharePath, fileCfg, cliOverrides{
		numPages:      *numPages,
		pageSize:      *pageSize,
		initSlots:     *initSlots,
		lockTimeout:   *lockTimeout,
		defaultTTL:    *defaultTTL,
		initFile:      *initFile,
		testFile:      *testFile,
		writeBack:     *writeBack,
		cacheNotFound: *cacheNotFound,
	})
	if err != nil {
		return err
	}

	cache, err := shmcache.Open(opts)
	if err != nil {
		return fmt.Errorf("opening share file: %w", err)
	}
	defer cache.Close()

	repl := &REPL{cache: cache, sharePath: sharePath}

	return repl.Run()
}

// cliOverrides holds flag values that, when set, override the config
// file's corresponding field. Zero values mean "not set on the
// command line" for everything except the bools.
type cliOverrides struct {
	numPages      uint32
	pageSize      string
	initSlots     uint32
	lockTimeout   string
	defaultTTL    string
	initFile      bool
	testFile      bool
	writeBack     bool
	cacheNotFound bool
}

// buildOptions merges defaults, the config file, and CLI overrides
// (highest precedence) into shmcache.Options.
func buildOptions(sharePath string, cfg fileConfig, cli cliOverrides) (shmcache.Options, error) {
	o := shmcache.Options{
		SharePath:     sharePath,
		RawValues:     true,
		Filesystem:    fs.NewReal(),
		InitFile:      cli.initFile,
		TestFile:      cli.testFile,
		WriteBack:     cli.writeBack || cfg.WriteAction == "write_back",
		CacheNotFound: cli.cacheNotFound || cfg.CacheNotFound,
		Logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "shmcachectl: "+format+"\n", args...)
		},
	}

	pageSizeStr := firstNonEmpty(cli.pageSize, cfg.PageSize)
	if pageSizeStr != "" {
		v, err := shmcache.ParseSize(pageSizeStr)
		if err != nil {
			return o, err
		}

		o.PageSize = v
	}

	numPages := cli.numPages
	if numPages == 0 && cfg.NumPages != "" {
		v, err := strconv.ParseUint(cfg.NumPages, 10, 32)
		if err != nil {
			return o, fmt.Errorf("config num_pages: %w", err)
		}

		numPages = uint32(v)
	}

	o.NumPages = numPages

	initSlots := cli.initSlots
	if initSlots == 0 && cfg.InitSlots != "" {
		v, err := strconv.ParseUint(cfg.InitSlots, 10, 32)
		if err != nil {
			return o, fmt.Errorf("config init_slots: %w", err)
		}

		initSlots = uint32(v)
	}

	o.InitSlots = initSlots

	lockTimeoutStr := firstNonEmpty(cli.lockTimeout, cfg.LockTimeout)
	if lockTimeoutStr != "" {
		d, err := shmcache.ParseDuration(lockTimeoutStr)
		if err != nil {
			return o, err
		}

		o.LockTimeout = d
	}

	ttlStr := firstNonEmpty(cli.defaultTTL, cfg.DefaultTTL)
	if ttlStr != "" {
		d, err := shmcache.ParseDuration(ttlStr)
		if err != nil {
			return o, err
		}

		o.DefaultExpireSeconds = uint32(d / time.Second)
	}

	return o, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

// REPL is the interactive command loop, modeled on the teacher's own
// slot-cache REPL.
type REPL struct {
	cache     *shmcache.Cache
	sharePath string
	liner     *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".shmcachectl_history")
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

	fmt.Printf("shmcachectl - shmcache CLI (%s)\n", r.sharePath)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("shmcachectl> ")
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
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(args)

		case "set", "put":
			r.cmdSet(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "keys", "ls", "list":
			r.cmdKeys(args)

		case "clear":
			r.cmdClear()

		case "purge":
			r.cmdPurge()

		case "empty":
			r.cmdEmpty(args)

		case "stats":
			r.cmdStats()

		case "flush", "sync":
			r.cmdFlush()

		case "export":
			r.cmdExport(args)

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
	commands := []string{
		"get", "set", "put", "del", "delete",
		"keys", "ls", "list", "clear", "purge", "empty",
		"stats", "flush", "sync", "export", "help", "exit", "quit", "q",
	}

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
	fmt.Println("  get <key>                 Look up a key")
	fmt.Println("  set <key> <value> [ttl]   Store a key with an optional TTL in seconds")
	fmt.Println("  del <key>                 Delete a key")
	fmt.Println("  keys [limit]              List live keys")
	fmt.Println("  clear                     Discard every entry")
	fmt.Println("  purge                     Discard only expired entries")
	fmt.Println("  empty [true|1]            Discard everything (or only expired), always writing back dirty entries")
	fmt.Println("  stats                     Show cumulative counters")
	fmt.Println("  flush / sync              Msync the mapped region to the backing file")
	fmt.Println("  export <path>             Write a stats snapshot to path atomically")
	fmt.Println("  help                      Show this help")
	fmt.Println("  exit / quit / q           Exit")
}

// parseArg parses a REPL argument as hex if possible, falling back to
// treating it as literal text.
func parseArg(s string) []byte {
	if raw, err := hex.DecodeString(s); err == nil && len(s)%2 == 0 && len(s) > 0 {
		return raw
	}

	return []byte(s)
}

func formatBytes(b []byte) string {
	printable := true

	for _, c := range b {
		if c < 32 || c > 126 {
			printable = false

			break
		}
	}

	if printable {
		return fmt.Sprintf("%q", string(b))
	}

	return hex.EncodeToString(b)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <key>")

		return
	}

	var value []byte

	found, err := r.cache.Get(parseArg(args[0]), &value)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if !found {
		fmt.Println("(not found)")

		return
	}

	fmt.Printf("Value: %s\n", formatBytes(value))
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: set <key> <value> [ttl-seconds]")

		return
	}

	var ttl uint32

	if len(args) >= 3 {
		v, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			fmt.Printf("Error parsing ttl: %v\n", err)

			return
		}

		ttl = uint32(v)
	}

	if err := r.cache.Set(parseArg(args[0]), parseArg(args[1]), ttl); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <key>")

		return
	}

	deleted, err := r.cache.Remove(parseArg(args[0]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if deleted {
		fmt.Println("OK: deleted")
	} else {
		fmt.Println("OK: did not exist")
	}
}

func (r *REPL) cmdKeys(args []string) {
	limit := 50

	if len(args) >= 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)

			return
		}

		limit = v
	}

	keys, err := r.cache.GetKeys(shmcache.KeyModeMetadata)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(keys) == 0 {
		fmt.Println("(empty)")

		return
	}

	for i, e := range keys {
		if i >= limit {
			fmt.Printf("... (showing first %d of %d)\n", limit, len(keys))

			break
		}

		fmt.Printf("%3d. %s (expires=%d)\n", i+1, formatBytes(e.Key), e.ExpireTime)
	}
}

func (r *REPL) cmdClear() {
	if err := r.cache.Clear(); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK: cleared")
}

func (r *REPL) cmdPurge() {
	if err := r.cache.Purge(); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK: purged expired entries")
}

func (r *REPL) cmdEmpty(args []string) {
	onlyExpired := len(args) >= 1 && (args[0] == "true" || args[0] == "1")

	if err := r.cache.Empty(onlyExpired); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK: emptied")
}

func (r *REPL) cmdStats() {
	s := r.cache.Stats()

	fmt.Printf("Reads:           %d (%d hits, %d misses)\n", s.Reads, s.ReadHits, s.ReadMisses)
	fmt.Printf("Writes:          %d (%d failures)\n", s.Writes, s.WriteFailures)
	fmt.Printf("Deletes:         %d (%d hits)\n", s.Deletes, s.DeleteHits)
	fmt.Printf("Expunges:        %d (%d evictions)\n", s.Expunges, s.Evictions)
	fmt.Printf("Expired on read: %d\n", s.ExpiredOnRead)
	fmt.Printf("Write-backs:     %d (%d failed)\n", s.WritebackCalls, s.WritebackFails)
}

func (r *REPL) cmdFlush() {
	if err := r.cache.Flush(); err != nil {
		fmt.Printf("flush: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdExport(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: export <path>")

		return
	}

	s := r.cache.Stats()
	snapshot := fmt.Sprintf(
		"reads=%d\nread_hits=%d\nread_misses=%d\nwrites=%d\nwrite_failures=%d\ndeletes=%d\ndelete_hits=%d\nexpunges=%d\nevictions=%d\nexpired_on_read=%d\nwriteback_calls=%d\nwriteback_fails=%d\n",
		s.Reads, s.ReadHits, s.ReadMisses, s.Writes, s.WriteFailures,
		s.Deletes, s.DeleteHits, s.Expunges, s.Evictions, s.ExpiredOnRead,
		s.WritebackCalls, s.WritebackFails,
	)

	if err := fs.WriteFileAtomic(args[0], []byte(snapshot)); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: wrote stats to %s\n", args[0])
}
