package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	ngram "github.com/i5heu/ngram-corpus"
	"github.com/i5heu/ngram-corpus/internal/config"
	"github.com/i5heu/ngram-corpus/pkg/backup"
	"github.com/i5heu/ngram-corpus/pkg/logging"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

func usage() {
	fmt.Println("Usage: ngram [-config file] [-dir path] [-backend badger|bolt] [-debug categories] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  create -attrs <n> -order <n>")
	fmt.Println("  add [-weight <w>] <file>...")
	fmt.Println("  stats")
	fmt.Println("  lookup [-attr <n>] <feature>")
	fmt.Println("  dump -o <file> [-codec zstd|xz]")
	fmt.Println("  restore -i <file>")
	fmt.Println("  compact")
}

func main() {
	global := flag.NewFlagSet("ngram", flag.ExitOnError)
	global.Usage = usage
	configPath := global.String("config", "", "config file (default "+config.DefaultFile+" if present)")
	dir := global.String("dir", "", "data directory")
	backend := global.String("backend", "", "storage backend: badger or bolt")
	debug := global.String("debug", "", "comma separated debug categories: trie,vector,vocab,txn,store or all")
	global.Parse(os.Args[1:])

	if global.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	path, mustExist := config.DefaultFile, false
	if *configPath != "" {
		path, mustExist = *configPath, true
	}
	cfg, err := config.Load(path, mustExist)
	if err != nil {
		fail(err)
	}
	if *dir != "" {
		cfg.DataDir = *dir
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *debug != "" {
		cfg.Debug = *debug
		cfg.LogLevel = "debug"
	}

	level, err := cfg.Level()
	if err != nil {
		fail(err)
	}
	logging.Logger = logging.New(logging.Options{Level: level})
	conf, err := cfg.Corpus(logging.Logger)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "create":
		err = runCreate(conf, args)
	case "add":
		err = withCorpus(conf, func(c *ngram.Corpus) error { return runAdd(c, args) })
	case "stats":
		err = withCorpus(conf, runStats)
	case "lookup":
		err = withCorpus(conf, func(c *ngram.Corpus) error { return runLookup(c, args) })
	case "dump":
		err = withCorpus(conf, func(c *ngram.Corpus) error { return runDump(ctx, c, cfg.Codec, args) })
	case "restore":
		err = runRestore(ctx, conf, args)
	case "compact":
		err = withCorpus(conf, runCompact)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func withCorpus(conf ngram.Config, fn func(c *ngram.Corpus) error) error {
	c, err := ngram.Open(conf)
	if err != nil {
		return err
	}
	return errors.Join(fn(c), c.Close())
}

func runCreate(conf ngram.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	attrs := fs.Uint64("attrs", 1, "number of attributes per word")
	order := fs.Uint64("order", 3, "gram order")
	fs.Parse(args)

	c, err := ngram.Create(conf, *attrs, types.Order(*order))
	if err != nil {
		return err
	}
	fmt.Printf("Created corpus %s (%d attributes, order %d) in %s\n", c.ID(), *attrs, *order, conf.Paths[0])
	return c.Close()
}

func runAdd(c *ngram.Corpus, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	weight := fs.Float64("weight", 1, "weight of every word")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("usage: ngram add [-weight w] <file>...")
	}

	var total int
	for _, name := range fs.Args() {
		n, err := addFile(c, name, *weight)
		total += n
		if err != nil {
			return err
		}
	}
	fmt.Printf("Added %d sequences.\n", total)
	return nil
}

func addFile(c *ngram.Corpus, name string, weight float64) (int, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var added int
	err = readSequences(f, c.Attributes(), weight, func(g ngram.WeightedGram) error {
		if err := c.AddToCorpus(g); err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("%s: %w", name, err)
	}
	return added, nil
}

func runStats(c *ngram.Corpus) error {
	s, err := c.Stats()
	if err != nil {
		return err
	}
	fmt.Println("Corpus Statistics:")
	fmt.Printf("  ID:          %s\n", s.ID)
	fmt.Printf("  Backend:     %s\n", s.Backend)
	fmt.Printf("  Attributes:  %d\n", s.Attributes)
	fmt.Printf("  Order:       %d\n", s.Order)
	for a := range s.VocabSize {
		fmt.Printf("  Attribute %d:\n", a)
		fmt.Printf("    Vocabulary:  %d\n", s.VocabSize[a])
		for o, n := range s.Nodes[a] {
			fmt.Printf("    %d-grams:     %d\n", o+1, n)
		}
	}
	if s.GramFilterKeys > 0 {
		fmt.Printf("  Gram filter: %d keys\n", s.GramFilterKeys)
	}
	return nil
}

func runLookup(c *ngram.Corpus, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	attr := fs.Uint64("attr", 0, "attribute")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("usage: ngram lookup [-attr n] <feature>...")
	}

	return c.View(func(r *ngram.Reader) error {
		a := types.Attribute(*attr)
		id, err := r.Vocab(a, fs.Arg(0))
		if err != nil {
			return err
		}
		index, e, err := r.Resolve(a, fs.Args()...)
		if err != nil {
			return err
		}
		fmt.Printf("Vocab ID:  %d\n", id)
		if index.IsUnknown() {
			fmt.Println("Not in corpus.")
			return nil
		}
		fmt.Printf("Node:      %d\n", index)
		fmt.Printf("Weight:    %g\n", e.Weight)
		fmt.Printf("History:   %d\n", e.History)
		fmt.Printf("Backoff:   %d\n", e.Backoff)
		return nil
	})
}

func runDump(ctx context.Context, c *ngram.Corpus, defaultCodec string, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	out := fs.String("o", "", "output file")
	codecName := fs.String("codec", defaultCodec, "compression: zstd or xz")
	fs.Parse(args)
	if *out == "" {
		return errors.New("usage: ngram dump -o <file> [-codec zstd|xz]")
	}
	codec, err := backup.ParseCodec(*codecName)
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	sum, err := c.Dump(ctx, f, codec)
	if err := errors.Join(err, f.Close()); err != nil {
		return err
	}
	fmt.Printf("Dumped %d entries (%d bytes uncompressed) to %s.\n", sum.Entries, sum.Bytes, *out)
	return nil
}

func runRestore(ctx context.Context, conf ngram.Config, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	in := fs.String("i", "", "dump file")
	fs.Parse(args)
	if *in == "" {
		return errors.New("usage: ngram restore -i <file>")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	c, sum, err := ngram.Restore(ctx, conf, f)
	if err != nil {
		return err
	}
	fmt.Printf("Restored corpus %s: %d entries.\n", c.ID(), sum.Entries)
	return c.Close()
}

func runCompact(c *ngram.Corpus) error {
	if err := c.Compact(); err != nil {
		return err
	}
	fmt.Println("Compaction successful.")
	return nil
}
