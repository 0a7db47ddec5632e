package watcher_test

import (
	"testing"
	"time"

	"github.com/degremont/pcocc/pkg/kv"
	_ "github.com/degremont/pcocc/pkg/kv/mem"
	"github.com/degremont/pcocc/pkg/watcher"
	"github.com/stretchr/testify/suite"
)

type WatcherTestSuite struct {
	suite.Suite
	KV      kv.KV
	Watcher *watcher.Watcher
}

func TestWatcherTestSuite(t *testing.T) {
	suite.Run(t, new(WatcherTestSuite))
}

func (s *WatcherTestSuite) SetupTest() {
	var err error
	s.KV, err = kv.New("mem://")
	s.Require().NoError(err)
	s.Watcher, err = watcher.New(s.KV)
	s.Require().NoError(err)
}

func (s *WatcherTestSuite) TearDownTest() {
	s.NoError(s.Watcher.Close())
}

// nextEvent runs Next on a goroutine so a missing event fails the test
// instead of hanging it
func (s *WatcherTestSuite) nextEvent() kv.Event {
	got := make(chan kv.Event, 1)
	go func() {
		if s.Watcher.Next() {
			got <- s.Watcher.Event()
		}
	}()
	select {
	case event := <-got:
		return event
	case <-time.After(5 * time.Second):
		s.FailNow("no event arrived")
		return kv.Event{}
	}
}

func (s *WatcherTestSuite) TestAdd() {
	s.Require().NoError(s.Watcher.Add("pcocc/watched/"))
	s.Require().NoError(s.Watcher.Add("pcocc/watched/"), "re-adding is a no-op")

	s.Require().NoError(s.KV.Set("pcocc/watched/key", "value"))

	event := s.nextEvent()
	s.Equal("pcocc/watched/key", event.Key)
	s.Equal(kv.Create, event.Type)
}

func (s *WatcherTestSuite) TestMultiplePrefixes() {
	s.Require().NoError(s.Watcher.Add("pcocc/a/"))
	s.Require().NoError(s.Watcher.Add("pcocc/b/"))

	s.Require().NoError(s.KV.Set("pcocc/a/1", "one"))
	event := s.nextEvent()
	s.Equal("pcocc/a/1", event.Key)

	s.Require().NoError(s.KV.Set("pcocc/b/1", "two"))
	event = s.nextEvent()
	s.Equal("pcocc/b/1", event.Key)
}

func (s *WatcherTestSuite) TestRemove() {
	s.Equal(watcher.ErrPrefixNotWatched, s.Watcher.Remove("pcocc/nosuch/"))

	s.Require().NoError(s.Watcher.Add("pcocc/watched/"))
	s.Require().NoError(s.Watcher.Remove("pcocc/watched/"))
	s.Equal(watcher.ErrPrefixNotWatched, s.Watcher.Remove("pcocc/watched/"))
}

func (s *WatcherTestSuite) TestClose() {
	s.Require().NoError(s.Watcher.Add("pcocc/watched/"))
	s.Require().NoError(s.Watcher.Close())
	s.Require().NoError(s.Watcher.Close(), "close is idempotent")

	s.Equal(watcher.ErrStopped, s.Watcher.Add("pcocc/other/"))
}
