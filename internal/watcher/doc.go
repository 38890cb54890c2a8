// Package watcher follows record files on disk and triggers incremental
// index updates when they change.
//
// fsnotify is the primary event source. The parent directory of each
// tracked file is watched, so editors that replace a file by renaming a
// temporary copy over it are still seen. When fsnotify cannot be set up
// (network mounts, some container volumes) the watcher falls back to
// polling file size and modification time.
//
// Events pass through a Debouncer before reaching the update callback:
//
//	w, err := watcher.NewCorpusWatcher([]string{"legal_data_new.json"},
//	    func(ctx context.Context, paths []string) error {
//	        records, err := record.LoadFiles(ctx, paths, 8)
//	        if err != nil {
//	            return err
//	        }
//	        _, err = svc.Update(ctx, records)
//	        return err
//	    }, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
package watcher
