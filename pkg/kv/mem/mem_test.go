package mem_test

import (
	"testing"
	"time"

	"github.com/degremont/pcocc/pkg/kv"
	_ "github.com/degremont/pcocc/pkg/kv/mem"
	"github.com/stretchr/testify/suite"
)

type MemTestSuite struct {
	suite.Suite
	KV kv.KV
}

func TestMemTestSuite(t *testing.T) {
	suite.Run(t, new(MemTestSuite))
}

func (s *MemTestSuite) SetupTest() {
	var err error
	s.KV, err = kv.New("mem://")
	s.Require().NoError(err)
}

func (s *MemTestSuite) TestSetGet() {
	s.Require().NoError(s.KV.Set("pcocc/test/key", "value"))

	v, err := s.KV.Get("pcocc/test/key")
	s.Require().NoError(err)
	s.Equal("value", string(v.Data))
	s.NotZero(v.Index)

	_, err = s.KV.Get("pcocc/test/nosuch")
	s.Error(err)
	s.True(s.KV.IsKeyNotFound(err))
}

func (s *MemTestSuite) TestGetAll() {
	s.Require().NoError(s.KV.Set("pcocc/a/1", "one"))
	s.Require().NoError(s.KV.Set("pcocc/a/2", "two"))
	s.Require().NoError(s.KV.Set("pcocc/b/1", "other"))

	values, err := s.KV.GetAll("pcocc/a/")
	s.Require().NoError(err)
	s.Len(values, 2)
	s.Equal("one", string(values["pcocc/a/1"].Data))
}

func (s *MemTestSuite) TestKeys() {
	s.Require().NoError(s.KV.Set("pcocc/a/1", "one"))
	s.Require().NoError(s.KV.Set("pcocc/a/2/deep", "two"))
	s.Require().NoError(s.KV.Set("pcocc/b/1", "other"))

	keys, err := s.KV.Keys("pcocc/a")
	s.Require().NoError(err)
	s.Equal([]string{"pcocc/a/1", "pcocc/a/2"}, keys)
}

func (s *MemTestSuite) TestDelete() {
	s.Require().NoError(s.KV.Set("pcocc/test/key", "value"))
	s.Require().NoError(s.KV.Delete("pcocc/test/key", false))

	_, err := s.KV.Get("pcocc/test/key")
	s.True(s.KV.IsKeyNotFound(err))

	err = s.KV.Delete("pcocc/test/key", false)
	s.Error(err)
}

func (s *MemTestSuite) TestDeleteRecursive() {
	s.Require().NoError(s.KV.Set("pcocc/tree/1", "one"))
	s.Require().NoError(s.KV.Set("pcocc/tree/2", "two"))
	s.Require().NoError(s.KV.Set("pcocc/other", "keep"))

	s.Require().NoError(s.KV.Delete("pcocc/tree", true))

	values, err := s.KV.GetAll("pcocc/")
	s.Require().NoError(err)
	s.Len(values, 1)
}

func (s *MemTestSuite) TestUpdateExclusiveCreate() {
	index, err := s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("first")})
	s.Require().NoError(err)
	s.NotZero(index)

	_, err = s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("second")})
	s.Error(err, "index 0 requires the key to be absent")

	v, err := s.KV.Get("pcocc/test/key")
	s.Require().NoError(err)
	s.Equal("first", string(v.Data))
}

func (s *MemTestSuite) TestUpdateCAS() {
	index, err := s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("v1")})
	s.Require().NoError(err)

	index2, err := s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("v2"), Index: index})
	s.Require().NoError(err)
	s.Greater(index2, index)

	_, err = s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("v3"), Index: index})
	s.Error(err, "a stale index must not clobber a newer value")

	v, err := s.KV.Get("pcocc/test/key")
	s.Require().NoError(err)
	s.Equal("v2", string(v.Data))
}

func (s *MemTestSuite) TestRemove() {
	index, err := s.KV.Update("pcocc/test/key", kv.Value{Data: []byte("v1")})
	s.Require().NoError(err)

	s.Error(s.KV.Remove("pcocc/test/key", index+1))
	s.NoError(s.KV.Remove("pcocc/test/key", index))

	_, err = s.KV.Get("pcocc/test/key")
	s.True(s.KV.IsKeyNotFound(err))
}

func (s *MemTestSuite) TestWatch() {
	stop := make(chan struct{})
	defer close(stop)

	events, _, err := s.KV.Watch("pcocc/watched/", 0, stop)
	s.Require().NoError(err)

	s.Require().NoError(s.KV.Set("pcocc/ignored", "nope"))
	s.Require().NoError(s.KV.Set("pcocc/watched/key", "value"))
	s.Require().NoError(s.KV.Delete("pcocc/watched/key", false))

	event := <-events
	s.Equal("pcocc/watched/key", event.Key)
	s.Equal(kv.Create, event.Type)
	s.Equal("value", string(event.Value.Data))

	event = <-events
	s.Equal(kv.Delete, event.Type)

	select {
	case event := <-events:
		s.Failf("unexpected event", "%+v", event)
	case <-time.After(10 * time.Millisecond):
	}
}

func (s *MemTestSuite) TestTTL() {
	s.Require().NoError(s.KV.TTL("pcocc/lease", 10*time.Millisecond))

	_, err := s.KV.Get("pcocc/lease")
	s.NoError(err)

	time.Sleep(20 * time.Millisecond)
	_, err = s.KV.Get("pcocc/lease")
	s.True(s.KV.IsKeyNotFound(err))
}

func (s *MemTestSuite) TestIndependentStores() {
	other, err := kv.New("mem://")
	s.Require().NoError(err)

	s.Require().NoError(s.KV.Set("pcocc/test/key", "value"))
	_, err = other.Get("pcocc/test/key")
	s.True(other.IsKeyNotFound(err))
}
