package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/sanity-io/litter"

	"github.com/alimasry/go-ydoc/awareness"
	"github.com/alimasry/go-ydoc/crdt"
	"github.com/alimasry/go-ydoc/store"
	"github.com/alimasry/go-ydoc/ydoc"
)

func main() {
	backend := flag.String("store", "memory", "update log backend: memory, firestore or postgres")
	docID := flag.String("doc", "demo", "document id in the store")
	codecVersion := flag.Int("codec", 1, "update encoding version (1 or 2)")
	project := flag.String("firestore-project", os.Getenv("FIRESTORE_PROJECT"), "Firestore project id")
	dbURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	dump := flag.Bool("dump", false, "dump document and awareness state")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	stdr.SetVerbosity(*verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	if err := run(context.Background(), logger, config{
		backend: *backend,
		docID:   *docID,
		codec:   *codecVersion,
		project: *project,
		dbURL:   *dbURL,
		dump:    *dump,
	}); err != nil {
		log.Fatal(err)
	}
}

type config struct {
	backend string
	docID   string
	codec   int
	project string
	dbURL   string
	dump    bool
}

func openStore(ctx context.Context, cfg config) (store.DocumentStore, func(), error) {
	switch cfg.backend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "firestore":
		if cfg.project == "" {
			return nil, nil, fmt.Errorf("firestore: project id required")
		}
		client, err := firestore.NewClient(ctx, cfg.project)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore: %w", err)
		}
		cs := store.NewCachedStore(store.NewFirestoreStore(client), time.Second)
		return cs, func() { cs.Close(); client.Close() }, nil
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, pg.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.backend)
}

func run(ctx context.Context, logger logr.Logger, cfg config) error {
	codec, err := crdt.CodecFor(cfg.codec)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	alice := ydoc.New(ydoc.WithEncoding(codec), ydoc.WithLogger(logger.WithName("alice")))
	bob := ydoc.New(ydoc.WithEncoding(codec), ydoc.WithLogger(logger.WithName("bob")))

	binding, err := store.Bind(ctx, st, cfg.docID, alice, store.WithBindingLogger(logger))
	if err != nil {
		return err
	}
	defer binding.Close(ctx)
	logger.Info("loaded document", "doc", cfg.docID, "version", binding.Version(), "text", alice.GetText("body").String())

	if _, err := bob.GetText("body").Attach(ydoc.ObserverFunc(func(e ydoc.Event) {
		logger.Info("bob saw change", "delta", litter.Sdump(e.Delta))
	})); err != nil {
		return err
	}

	if err := alice.Transact(func(tx *ydoc.Transaction) error {
		if err := alice.GetText("body").Push(tx, "Hello"); err != nil {
			return err
		}
		return alice.GetMap("meta").Set(tx, "author", ydoc.String("alice"))
	}); err != nil {
		return err
	}
	if err := exchange(alice, bob); err != nil {
		return err
	}

	// Concurrent edits at the end of the text.
	if err := alice.Transact(func(tx *ydoc.Transaction) error {
		return alice.GetText("body").Push(tx, ", world")
	}); err != nil {
		return err
	}
	if err := bob.Transact(func(tx *ydoc.Transaction) error {
		body := bob.GetText("body")
		return body.Format(tx, 0, body.Len(), ydoc.Attrs{"bold": ydoc.Bool(true)})
	}); err != nil {
		return err
	}
	if err := exchange(alice, bob); err != nil {
		return err
	}
	if err := exchange(bob, alice); err != nil {
		return err
	}
	fmt.Printf("alice: %s\nbob:   %s\n", alice.GetText("body"), bob.GetText("body"))

	presence, err := sharePresence(alice, bob, logger)
	if err != nil {
		return err
	}
	fmt.Printf("peers seen by bob: %d\n", len(presence.Clients()))

	if err := binding.Compact(ctx); err != nil {
		return err
	}

	if cfg.dump {
		litter.Dump(alice.GetText("body").Diff())
		litter.Dump(alice.GetMap("meta").ToMapping())
		litter.Dump(presence.Clients())
	}
	return nil
}

// exchange brings dst up to date with src.
func exchange(src, dst *ydoc.Doc) error {
	update, err := src.Diff(dst.State())
	if err != nil {
		return err
	}
	if err := dst.Sync(update); err != nil {
		return err
	}
	dst.Commit()
	return nil
}

// sharePresence publishes alice's cursor to bob's awareness and returns it.
func sharePresence(alice, bob *ydoc.Doc, logger logr.Logger) (*awareness.Awareness, error) {
	local := awareness.New(alice, awareness.WithLogger(logger.WithName("alice-awareness")))
	remote := awareness.New(bob, awareness.WithLogger(logger.WithName("bob-awareness")))

	if _, err := remote.Attach(awareness.ObserverFunc(func(e awareness.Event) {
		logger.Info("presence changed", "added", e.Added, "updated", e.Updated, "removed", e.Removed)
	})); err != nil {
		return nil, err
	}
	if err := local.SetLocalState(`{"user":{"name":"alice"}}`); err != nil {
		return nil, err
	}
	if err := local.SetLocalField("cursor", alice.GetText("body").Len()); err != nil {
		return nil, err
	}
	if err := remote.Sync(local.Diff()); err != nil {
		return nil, err
	}
	return remote, nil
}
