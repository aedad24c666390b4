package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apiwatch/apiwatch/internal/utils"
	"github.com/apiwatch/apiwatch/pkg/fetch"
	"github.com/apiwatch/apiwatch/pkg/notify"
	"github.com/apiwatch/apiwatch/pkg/polling"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

// openDB resolves the database path, takes the cross-process file lock and
// opens the store. The returned cleanup releases both.
func openDB(cmd *cobra.Command) (*storage.DB, func(), error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, nil, err
	}

	lock, err := utils.NewDBLock(absPath)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, nil, err
	}

	db, err := storage.OpenWithRetention(absPath, viper.GetInt("retention"))
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}
	cleanup := func() {
		_ = db.Close()
		_ = lock.Unlock()
	}
	return db, cleanup, nil
}

// newRunner wires the fetch client, dispatcher and poll runner from config.
func newRunner(db *storage.DB, hub *notify.Hub, onDone func(polling.CycleResult)) *polling.Runner {
	timeout := viper.GetDuration("fetch.timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetcher := fetch.New(timeout, viper.GetInt("fetch.retries"))

	maxAttempts := viper.GetInt("notify.max_attempts")
	senders := []notify.Sender{&notify.InAppSender{DB: db, MaxAttempts: maxAttempts}}
	if hub != nil {
		senders = append(senders, &notify.PushSender{Hub: hub, MaxAttempts: maxAttempts})
	}
	dispatcher := notify.NewDispatcher(db, utils.Log, senders...)

	return polling.NewRunner(polling.Config{
		DB:          db,
		Fetcher:     fetcher,
		Dispatcher:  dispatcher,
		Concurrency: viper.GetInt("poll.concurrency"),
		Log:         utils.Log,
		OnCycleDone: onDone,
	})
}
