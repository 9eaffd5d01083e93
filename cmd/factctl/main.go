// Command factctl is a minimal reference CLI over the fact engine: a
// PassThrough fork (C11) backed by an in-memory store (C3), exercising
// the save and graph-stream wire codecs (pkg/wireformat) and principal
// key generation (pkg/identity). It is grounded on the teacher's
// cmd/helm dispatcher (Run(args, stdout, stderr) int, switched on
// args[1], for a testable entrypoint), narrowed from HELM's server/
// proxy/export/conform subcommand set down to the handful this module's
// scope actually supports.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jinaga/factengine/pkg/config"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/fork"
	"github.com/jinaga/factengine/pkg/identity"
	"github.com/jinaga/factengine/pkg/observable"
	"github.com/jinaga/factengine/pkg/storage"
	"github.com/jinaga/factengine/pkg/topo"
	"github.com/jinaga/factengine/pkg/wireformat"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint proper, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "keygen":
		return runKeygen(stdout, stderr)
	case "save":
		return runSave(args[2:], stdout, stderr)
	case "graph-to-save":
		return runGraphToSave(os.Stdin, stdout, stderr)
	case "config":
		return runConfig(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `factctl — reference fact engine CLI

Usage:
  factctl keygen                  generate an Ed25519 principal key pair
  factctl save <file.json>        save a wire-format envelope list into a fresh in-memory store
  factctl graph-to-save           read a graph stream on stdin, write it as save wire format on stdout
  factctl config [path]           load configuration (defaults if path is omitted) and print one "name: value" line per option`)
}

func runKeygen(stdout, stderr io.Writer) int {
	pub, priv, err := identity.GenerateKeyPair()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "keygen:", err)
		return 1
	}
	pubPEM, err := identity.EncodePublicKeyPEM(pub)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "keygen:", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, pubPEM)
	_, _ = fmt.Fprintf(stdout, "private key (hex): %x\n", []byte(priv))
	return 0
}

func runSave(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: factctl save <file.json>")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "save:", err)
		return 1
	}
	envelopes, err := wireformat.DecodeSaveRequest(data)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "save:", err)
		return 1
	}

	f := fork.NewPassThrough(storage.NewMemory(0), observable.New(slog.Default()), slog.Default())
	ordered, err := reorderByTopoSort(envelopes)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "save:", err)
		return 1
	}

	persisted, err := f.Save(context.Background(), ordered)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "save:", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "saved %d fact(s)\n", len(persisted))
	for _, env := range persisted {
		_, _ = fmt.Fprintf(stdout, "  %s:%s\n", env.Fact.Type, env.Fact.Hash)
	}
	return 0
}

// reorderByTopoSort sorts envelopes so every predecessor precedes its
// successors (topo.Sort operates on bare records), then reassembles the
// envelope slice — carrying each record's signatures along with it — in
// that order. A wire-format save request has no ordering guarantee of its
// own (spec.md §6), so factctl sorts before handing the batch to Fork.Save.
func reorderByTopoSort(envelopes []fact.Envelope) ([]fact.Envelope, error) {
	records := make([]fact.Record, len(envelopes))
	byHash := make(map[string]fact.Envelope, len(envelopes))
	for i, env := range envelopes {
		records[i] = env.Fact
		byHash[env.Fact.Hash] = env
	}

	sorted, err := topo.Sort(records)
	if err != nil {
		return nil, err
	}

	ordered := make([]fact.Envelope, len(sorted))
	for i, r := range sorted {
		ordered[i] = byHash[r.Hash]
	}
	return ordered, nil
}

func runGraphToSave(stdin io.Reader, stdout, stderr io.Writer) int {
	envelopes, err := wireformat.ReadGraph(stdin)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "graph-to-save:", err)
		return 1
	}
	data, err := wireformat.EncodeSaveRequest(envelopes)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "graph-to-save:", err)
		return 1
	}
	_, _ = stdout.Write(data)
	_, _ = fmt.Fprintln(stdout)
	return 0
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := config.Load(path)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "httpEndpoint: %q\n", cfg.HTTPEndpoint)
	_, _ = fmt.Fprintf(stdout, "wsEndpoint: %q\n", cfg.WSEndpoint)
	_, _ = fmt.Fprintf(stdout, "localStore: %q\n", cfg.LocalStore)
	_, _ = fmt.Fprintf(stdout, "httpTimeoutSeconds: %d\n", cfg.HTTPTimeoutSeconds)
	_, _ = fmt.Fprintf(stdout, "queueProcessingDelayMs: %d\n", cfg.QueueProcessingDelayMs)
	_, _ = fmt.Fprintf(stdout, "feedRefreshIntervalSeconds: %d\n", cfg.FeedRefreshIntervalSeconds)
	return 0
}
