package rules

import (
	"time"

	"github.com/radovskyb/watcher"
)

// Watch reloads the store whenever the rules file is rewritten, so an
// operator can change blocking rules while a long capture is being
// processed. The returned stop function ends the watch.
func (s *Store) Watch(path string) (func(), error) {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write)
	if err := w.Add(path); err != nil {
		return nil, err
	}

	go func() {
		if err := w.Start(time.Second); err != nil {
			s.log.Error().Err(err).Msg("failed to start rules file watcher")
		}
	}()

	go func() {
		for {
			select {
			case <-w.Event:
				s.log.Info().Str("path", path).Msg("rules file changed")
				if err := s.Reload(path); err != nil {
					s.log.Error().Err(err).Msg("failed to reload rules file")
				}
			case err := <-w.Error:
				s.log.Error().Err(err).Msg("error watching rules file")
			case <-w.Closed:
				return
			}
		}
	}()

	return w.Close, nil
}
