package specstore

import "github.com/fsnotify/fsnotify"

// fsnotifyWatcher relays filesystem activity in a directory to a
// best-effort nudge channel. It never blocks the caller: the nudge
// channel is buffered by one slot and a full channel simply drops the
// signal, since the stat-based diff in NewEvents is the source of truth.
type fsnotifyWatcher struct {
	inner *fsnotify.Watcher
}

func newFsnotifyWatcher(dir string, nudge chan struct{}) (*fsnotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	fw := &fsnotifyWatcher{inner: w}
	go fw.relay(nudge)
	return fw, nil
}

func (fw *fsnotifyWatcher) relay(nudge chan struct{}) {
	for {
		select {
		case _, ok := <-fw.inner.Events:
			if !ok {
				return
			}
			select {
			case nudge <- struct{}{}:
			default:
			}
		case _, ok := <-fw.inner.Errors:
			if !ok {
				return
			}
		}
	}
}

func (fw *fsnotifyWatcher) Close() {
	fw.inner.Close()
}
