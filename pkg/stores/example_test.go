package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/modhost/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordBundle demonstrates recording a bundle generation and
// reading it back.
func ExampleSQLiteStore_RecordBundle() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.RecordBundle(ctx, &stores.BundleRecord{
		Identity:  "Acme",
		Path:      "/srv/acme/on-load.star",
		Checksum:  "9f86d081884c7d65",
		Fragments: 2,
		RunMode:   "dev",
	})
	if err != nil {
		log.Fatal(err)
	}

	latest, err := store.LatestBundle(ctx, "Acme")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: %d fragments\n", latest.Identity, latest.Fragments)
	// Output: Acme: 2 fragments
}
