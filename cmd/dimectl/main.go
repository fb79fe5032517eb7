// Command dimectl is the administration utility for the DIME resolution
// engine: it drives a signet lookup from the command line and inspects the
// on-disk object cache.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lavabitllc/dimeresolve/paths"
	"github.com/lavabitllc/dimeresolve/resolver"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "dimectl"
	app.Usage = "DIME signet resolution utility"
	app.Version = version
	app.ExitErrHandler = func(ctx *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}

	app.Commands = []*cli.Command{
		{
			Name:      "resolve",
			Usage:     "Resolve a signet for an address or domain",
			ArgsUsage: "ADDRESS",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "fingerprint",
					Usage: "Expected signet fingerprint, for pinned lookups",
				},
				&cli.BoolFlag{
					Name:  "no-cache",
					Usage: "Bypass the cache and force a fresh DMTP lookup",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "Overall lookup timeout",
					Value: 30 * time.Second,
				},
			},
			Action: resolveCmd,
		},
		{
			Name:  "cache",
			Usage: "Inspect the persistent object cache",
			Subcommands: []*cli.Command{
				{
					Name:   "dump",
					Usage:  "Print every entry in the cache",
					Action: cacheDumpCmd,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openCache(ctx *cli.Context) (*cache.Cache, string, error) {
	cacheFile, err := paths.CacheFile()
	if err != nil {
		return nil, "", fmt.Errorf("resolve cache path: %w", err)
	}

	c := cache.New()
	f, err := os.Open(cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return c, cacheFile, nil
		}
		return nil, "", fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	if err := c.Load(f, func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "cache: "+format+"\n", args...)
	}); err != nil {
		return nil, "", fmt.Errorf("load cache: %w", err)
	}
	return c, cacheFile, nil
}

func saveCache(c *cache.Cache, cacheFile string) error {
	f, err := os.OpenFile(cacheFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open cache file for write: %w", err)
	}
	defer f.Close()
	return c.Save(f)
}

func resolveCmd(ctx *cli.Context) error {
	addr := ctx.Args().First()
	if addr == "" {
		return cli.Exit("Error: an address or domain argument is required", 2)
	}

	c, cacheFile, err := openCache(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	anchorFile, err := paths.RootAnchorFile()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: resolve anchor path: %v", err), 1)
	}
	var anchors []*dnssec.DNSKey
	if _, statErr := os.Stat(anchorFile); statErr == nil {
		anchors, err = dnssec.LoadTrustAnchors(anchorFile)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: load trust anchors: %v", err), 1)
		}
	}

	validator, err := dnssec.NewValidator(c, anchors)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: initialize DNSSEC validator: %v", err), 1)
	}

	res, err := resolver.New(c, validator, net.DefaultResolver)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: initialize resolver: %v", err), 1)
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), ctx.Duration("timeout"))
	defer cancel()

	signet, err := res.GetSignet(timeoutCtx, addr, ctx.String("fingerprint"), !ctx.Bool("no-cache"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: resolve signet for %s: %v", addr, err), 1)
	}

	fmt.Printf("name:      %s\n", addr)
	fmt.Printf("payload:   %s\n", base64.StdEncoding.EncodeToString(signet.Payload))
	fmt.Printf("signature: %s\n", base64.StdEncoding.EncodeToString(signet.Signature[:]))

	if err := saveCache(c, cacheFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save cache: %v\n", err)
	}
	return nil
}

func cacheDumpCmd(ctx *cli.Context) error {
	c, _, err := openCache(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	c.Each(func(kind cache.Kind, store *cache.Store) {
		store.Each(func(e *cache.Entry) {
			fmt.Printf("--- %s %x ---\n", kind, e.ID)
			e.Payload.Dump(os.Stdout)
		})
	})
	return nil
}
