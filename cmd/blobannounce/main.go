package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/blobannounce/announcer"
	"github.com/cenkalti/blobannounce/internal/blobhash"
	"github.com/cenkalti/blobannounce/internal/dhtnode"
	"github.com/cenkalti/blobannounce/internal/jsonutil"
	"github.com/cenkalti/blobannounce/internal/logger"
	"github.com/cenkalti/blobannounce/internal/reannounce"
	"github.com/urfave/cli"
)

var version = "0.0.0"

var (
	cfg *config
	log = logger.New("blobannounce")
)

func main() {
	app := cli.NewApp()
	app.Name = "blobannounce"
	app.Usage = "Announce content-addressed blobs to the DHT"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "read config from `FILE`",
			Value: "~/.blobannounce/config.yaml",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log level from config",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored output",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the announcer until interrupted",
			Action: handleRun,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "file,f",
					Usage: "read blob hashes from `FILE`, one per line",
				},
				cli.BoolFlag{
					Name:  "immediate,i",
					Usage: "announce given hashes before anything else in the queue",
				},
			},
		},
		{
			Name:   "hash",
			Usage:  "print blob hashes of files",
			Action: handleHash,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "multihash",
					Usage: "print in multihash form",
				},
			},
		},
		{
			Name:   "schedule",
			Usage:  "list blobs in the reannounce schedule",
			Action: handleSchedule,
		},
		{
			Name:   "config",
			Usage:  "print effective config",
			Action: handleConfig,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	var err error
	cfg, err = loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if c.Bool("no-color") {
		jsonutil.DisableColor()
	}
	return nil
}

func handleRun(c *cli.Context) error {
	hashes, err := readHashes(c.Args(), c.String("file"))
	if err != nil {
		return err
	}

	db, err := reannounce.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := dhtnode.New(cfg.DHT)
	if err != nil {
		return err
	}
	defer node.Close()

	a, err := announcer.New(node, cfg.Announcer)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := reannounce.New(db, a, cfg.Reannounce, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	a.Start()
	defer a.Stop()

	if len(hashes) > 0 {
		if c.Bool("immediate") {
			err = r.Schedule(hashes, a.NextAnnounceTime(len(hashes)))
			if err != nil {
				return err
			}
			go logBatch(a.ImmediateAnnounce(hashes))
		} else {
			err = r.Add(hashes)
			if err != nil {
				return err
			}
		}
	}
	r.Start()

	var statsC <-chan time.Time
	if cfg.StatsInterval > 0 {
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-statsC:
			b, err := jsonutil.MarshalCompactPretty(a.Stats())
			if err != nil {
				return err
			}
			_, _ = os.Stdout.Write(b)
			if next, ok := r.NextDue(); ok {
				fmt.Printf("%d blobs scheduled, next reannounce at %s\n", r.Len(), next.Format(time.RFC3339))
			}
		case s := <-sigC:
			log.Infof("received %s, stopping", s)
			return nil
		}
	}
}

func logBatch(b *announcer.Batch) {
	if !b.Attempted() {
		log.Warning("immediate announce is not attempted")
		return
	}
	stored, err := b.Wait(context.Background())
	var n int
	for _, peers := range stored {
		if len(peers) > 0 {
			n++
		}
	}
	log.Infof("batch %s: %d of %d hashes stored", b.ID, n, len(b.Results()))
	if err != nil {
		log.Errorf("batch %s: %s", b.ID, err)
	}
}

func handleHash(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("give at least one file")
	}
	for _, filename := range c.Args() {
		data, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		h, err := blobhash.Sum(data)
		if err != nil {
			return err
		}
		if c.Bool("multihash") {
			h, err = blobhash.Multihash(h)
			if err != nil {
				return err
			}
		}
		fmt.Printf("%s  %s\n", h, filename)
	}
	return nil
}

func handleSchedule(c *cli.Context) error {
	db, err := reannounce.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.ForEach(func(r reannounce.Record) error {
		last := "never"
		if r.LastAnnounce > 0 {
			last = time.Unix(r.LastAnnounce, 0).Format(time.RFC3339)
		}
		_, err := fmt.Printf("%s next=%s last=%s announces=%d\n", r.Hash, r.Next().Format(time.RFC3339), last, r.Announces)
		return err
	})
}

func handleConfig(c *cli.Context) error {
	b, err := jsonutil.MarshalCompactPretty(*cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

// readHashes parses hashes given as arguments and in filename. Blank lines are skipped.
func readHashes(args []string, filename string) ([]string, error) {
	lines := append([]string(nil), args...)
	if filename != "" {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err = scanner.Err(); err != nil {
			return nil, err
		}
	}
	hashes := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		h, err := blobhash.Parse(line)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
