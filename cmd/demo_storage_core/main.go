package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/AlexStocks/log4go"

	"github.com/cloudsql/storagecore/internal/catalog"
	"github.com/cloudsql/storagecore/internal/config"
	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/txn"
	"github.com/cloudsql/storagecore/internal/value"
	"github.com/cloudsql/storagecore/internal/wal"
)

func main() {
	fmt.Println("=== storagecore demo ===")
	fmt.Println()

	demoDir := "demo_storage_core_data"
	os.RemoveAll(demoDir)
	os.MkdirAll(demoDir, 0755)
	defer os.RemoveAll(demoDir)

	cfg := config.Default()
	cfg.DataDir = demoDir
	cfg.WALPath = filepath.Join(demoDir, "wal.log")

	fmt.Println("step 1: open page server and write-ahead log")
	storage, err := pageserver.Open(cfg.DataDir)
	if err != nil {
		panic(err)
	}

	walMgr, err := wal.Open(cfg.WALPath, cfg.WALBufferPages, cfg.FlushInterval())
	if err != nil {
		panic(err)
	}
	walMgr.RunFlushThread()
	defer walMgr.Close()
	fmt.Println()

	fmt.Println("step 2: create accounts table and a unique index on id")
	cat := catalog.New(storage)
	defer cat.Close()
	schema := value.NewSchema("accounts",
		value.Column{Name: "id", Typ: value.TypeInt64},
		value.Column{Name: "name", Typ: value.TypeVarchar, Nullable: true},
		value.Column{Name: "balance", Typ: value.TypeInt64},
	)
	table, err := cat.CreateTable("accounts", schema)
	if err != nil {
		panic(err)
	}
	index, err := cat.CreateIndex("accounts", "by_id", value.TypeInt64, true)
	if err != nil {
		panic(err)
	}
	fmt.Println()

	fmt.Println("step 3: start the transaction manager with deadlock detection")
	isolation := config.ParseIsolation(cfg.DefaultIsolation)
	txnMgr := txn.NewManager(walMgr, cat, isolation, cfg.LockWaitTimeout())
	txnMgr.RunDeadlockDetector(20 * time.Millisecond)
	defer txnMgr.StopDeadlockDetector()
	fmt.Println()

	fmt.Println("step 4: insert two accounts under one transaction and commit")
	t1, err := txnMgr.Begin(isolation)
	if err != nil {
		panic(err)
	}
	aliceTuple := value.Tuple{value.NewInt64(1), value.NewVarchar("alice"), value.NewInt64(100)}
	rid1, err := table.Insert(aliceTuple, t1.ID)
	if err != nil {
		panic(err)
	}
	if err := txnMgr.LogInsert(t1, "accounts", rid1, aliceTuple); err != nil {
		panic(err)
	}
	if err := index.Insert(value.NewInt64(1), rid1); err != nil {
		panic(err)
	}

	bobTuple := value.Tuple{value.NewInt64(2), value.NewVarchar("bob"), value.NewInt64(50)}
	rid2, err := table.Insert(bobTuple, t1.ID)
	if err != nil {
		panic(err)
	}
	if err := txnMgr.LogInsert(t1, "accounts", rid2, bobTuple); err != nil {
		panic(err)
	}
	if err := index.Insert(value.NewInt64(2), rid2); err != nil {
		panic(err)
	}

	if err := txnMgr.Commit(t1); err != nil {
		panic(err)
	}
	fmt.Printf("committed txn %d: inserted rids %s, %s\n", t1.ID, rid1, rid2)
	fmt.Println()

	fmt.Println("step 5: look up alice's account by index and read it back")
	rids, err := index.Search(value.NewInt64(1))
	if err != nil {
		panic(err)
	}
	for _, rid := range rids {
		tuple, ok := table.Get(rid)
		if ok {
			fmt.Printf("accounts[%s] = %v\n", rid, tuple)
		}
	}
	fmt.Println()

	fmt.Println("step 6: start a second transaction, insert a bad row, then abort it")
	t2, err := txnMgr.Begin(isolation)
	if err != nil {
		panic(err)
	}
	if err := txnMgr.AcquireExclusive(t2, "accounts", rid2); err != nil {
		panic(err)
	}
	carolTuple := value.Tuple{value.NewInt64(3), value.NewVarchar("carol"), value.NewInt64(-1)}
	rid3, err := table.Insert(carolTuple, t2.ID)
	if err != nil {
		panic(err)
	}
	if err := txnMgr.LogInsert(t2, "accounts", rid3, carolTuple); err != nil {
		panic(err)
	}
	if err := index.Insert(value.NewInt64(3), rid3); err != nil {
		panic(err)
	}
	fmt.Printf("inserted carol at %s, then changing our mind\n", rid3)
	if err := txnMgr.Abort(t2); err != nil {
		panic(err)
	}
	fmt.Println()

	fmt.Println("step 7: verify the abort physically removed carol's row")
	if _, ok := table.Get(rid3); !ok {
		fmt.Printf("accounts[%s] is gone, as expected\n", rid3)
	}
	fmt.Printf("live tuple count: %d\n", table.TupleCount())

	log.Info("storagecore demo finished cleanly")
	fmt.Println()
	fmt.Println("=== demo complete ===")
}
