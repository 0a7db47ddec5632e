package pcocc_test

import (
	"sync"
	"testing"

	"github.com/degremont/pcocc"
	"github.com/stretchr/testify/suite"
)

type AllocatorTestSuite struct {
	CommonTestSuite
	Allocator *pcocc.ResourceAllocator
}

func TestAllocatorTestSuite(t *testing.T) {
	suite.Run(t, new(AllocatorTestSuite))
}

func (s *AllocatorTestSuite) SetupTest() {
	s.CommonTestSuite.SetupTest()
	s.Allocator = s.newAllocator()
}

func (s *AllocatorTestSuite) rnat() *pcocc.ReverseNAT {
	network, err := s.Store.Network("nat-rssh")
	s.Require().NoError(err)
	return network.Ethernet.ReverseNAT
}

func (s *AllocatorTestSuite) TestReservePort() {
	rnat := s.rnat()

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		port, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-1", "vm-1")
		s.Require().NoError(err)
		s.True(port >= rnat.MinHostPort && port <= rnat.MaxHostPort)
		s.False(seen[port], "ports are never handed out twice")
		seen[port] = true
	}

	_, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-1", "vm-1")
	s.True(pcocc.IsResourceExhausted(err), "range of 4 ports admits 4 reservations")

	// Freeing one makes it available again
	s.Allocator.ReleasePort(rnat.MinHostPort + 2)
	port, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-2", "vm-2")
	s.NoError(err)
	s.Equal(rnat.MinHostPort+2, port)
}

func (s *AllocatorTestSuite) TestReservePKey() {
	network, err := s.Store.Network("ib")
	s.Require().NoError(err)

	pkey1, err := s.Allocator.ReservePKey(network, "alloc-1")
	s.Require().NoError(err)
	pkey2, err := s.Allocator.ReservePKey(network, "alloc-2")
	s.Require().NoError(err)
	s.NotEqual(pkey1, pkey2)

	// Same allocation gets its existing key back
	again, err := s.Allocator.ReservePKey(network, "alloc-1")
	s.Require().NoError(err)
	s.Equal(pkey1, again)

	// Refcounted: first release keeps the key, second frees it
	s.False(s.Allocator.ReleasePKey("ib", pkey1))
	s.True(s.Allocator.ReleasePKey("ib", pkey1))
	s.False(s.Allocator.ReleasePKey("ib", pkey1), "releasing a free key is a no-op")

	// Range 0x2000..0x2002 holds three keys; alloc-2 has one
	for _, owner := range []string{"alloc-3", "alloc-4"} {
		_, err := s.Allocator.ReservePKey(network, owner)
		s.Require().NoError(err)
	}
	_, err = s.Allocator.ReservePKey(network, "alloc-5")
	s.True(pcocc.IsResourceExhausted(err))
}

func (s *AllocatorTestSuite) TestReservePKeyRangeEnd() {
	store := pcocc.NewConfigStore()
	s.Require().NoError(store.LoadNetworkData([]byte(`
ibtop:
  type: infiniband
  settings:
    host-device: mlx5_0
    min-pkey: "0xfffe"
    max-pkey: "0xffff"
    opensm-daemon: opensm
    opensm-partition-cfg: /etc/opensm/partitions.conf
    opensm-partition-tpl: /etc/opensm/partitions.conf.tpl
`)))
	network, err := store.Network("ibtop")
	s.Require().NoError(err)

	p1, err := s.Allocator.ReservePKey(network, "alloc-1")
	s.Require().NoError(err)
	p2, err := s.Allocator.ReservePKey(network, "alloc-2")
	s.Require().NoError(err)
	s.GreaterOrEqual(p1, uint16(0xfffe))
	s.GreaterOrEqual(p2, uint16(0xfffe))

	// The scan must stop at the top of the uint16 space rather than wrap
	// around and hand out keys below min-pkey
	_, err = s.Allocator.ReservePKey(network, "alloc-3")
	s.True(pcocc.IsResourceExhausted(err))
}

func (s *AllocatorTestSuite) TestReservePCI() {
	network, err := s.Store.Network("vfio")
	s.Require().NoError(err)

	addrs1, err := s.Allocator.ReservePCI(network, 1, "alloc-1", "vm-1")
	s.Require().NoError(err)
	s.Len(addrs1, 1)

	// Asking for more than remains fails without reserving anything
	_, err = s.Allocator.ReservePCI(network, 2, "alloc-2", "vm-2")
	s.True(pcocc.IsResourceExhausted(err))
	addrs2, err := s.Allocator.ReservePCI(network, 1, "alloc-2", "vm-2")
	s.Require().NoError(err, "failed bulk reservation must not leak devices")
	s.NotEqual(addrs1[0], addrs2[0])

	_, err = s.Allocator.ReservePCI(network, 1, "alloc-3", "vm-3")
	s.True(pcocc.IsResourceExhausted(err))
}

func (s *AllocatorTestSuite) TestAcquireDriveYes() {
	drive := pcocc.PersistentDrive{Path: "/disks/a.raw", Cache: pcocc.CacheWriteback, MMP: pcocc.MMPYes}

	lock, err := s.Allocator.AcquireDrive(drive, "alloc-1", "vm-1")
	s.Require().NoError(err)

	_, err = s.Allocator.AcquireDrive(drive, "alloc-2", "vm-2")
	s.True(pcocc.IsDriveAlreadyAttached(err))
	_, err = s.Allocator.AcquireDrive(drive, "alloc-1", "vm-2")
	s.True(pcocc.IsDriveAlreadyAttached(err), "mmp yes rejects even the same allocation")

	s.Allocator.ReleaseDrive(lock)
	s.Allocator.ReleaseDrive(lock) // idempotent

	_, err = s.Allocator.AcquireDrive(drive, "alloc-2", "vm-2")
	s.NoError(err, "released drive can be reattached")
}

func (s *AllocatorTestSuite) TestAcquireDriveCluster() {
	drive := pcocc.PersistentDrive{Path: "/disks/b.raw", Cache: pcocc.CacheWriteback, MMP: pcocc.MMPCluster}

	_, err := s.Allocator.AcquireDrive(drive, "alloc-1", "vm-1")
	s.Require().NoError(err)
	_, err = s.Allocator.AcquireDrive(drive, "alloc-1", "vm-2")
	s.NoError(err, "cluster mode admits the same allocation")

	_, err = s.Allocator.AcquireDrive(drive, "alloc-2", "vm-3")
	s.True(pcocc.IsDriveAlreadyAttached(err), "cluster mode rejects other allocations")
}

func (s *AllocatorTestSuite) TestAcquireDriveNo() {
	drive := pcocc.PersistentDrive{Path: "/disks/c.raw", Cache: pcocc.CacheUnsafe, MMP: pcocc.MMPNo}

	for i := 0; i < 3; i++ {
		lock, err := s.Allocator.AcquireDrive(drive, "alloc-1", "vm-1")
		s.NoError(err, "mmp no performs no tracking")
		s.Allocator.ReleaseDrive(lock)
	}
}

func (s *AllocatorTestSuite) TestConcurrentDriveAcquire() {
	drive := pcocc.PersistentDrive{Path: "/disks/d.raw", Cache: pcocc.CacheWriteback, MMP: pcocc.MMPYes}

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Allocator.AcquireDrive(drive, "alloc-1", "vm-1")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else {
			s.True(pcocc.IsDriveAlreadyAttached(err))
		}
	}
	s.Equal(1, won, "exactly one concurrent attachment wins")
}

func (s *AllocatorTestSuite) TestConcurrentPortReserve() {
	rnat := s.rnat()
	span := rnat.MaxHostPort - rnat.MinHostPort + 1

	const racers = 16
	var wg sync.WaitGroup
	ports := make(chan int, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-1", "vm-1")
			if err == nil {
				ports <- port
			}
		}()
	}
	wg.Wait()
	close(ports)

	seen := map[int]bool{}
	for port := range ports {
		s.False(seen[port], "no port is handed out twice")
		seen[port] = true
	}
	s.Len(seen, span, "every port in the range is handed out exactly once")
}

func (s *AllocatorTestSuite) TestReleaseAllocation() {
	rnat := s.rnat()
	ib, _ := s.Store.Network("ib")
	vfio, _ := s.Store.Network("vfio")
	drive := pcocc.PersistentDrive{Path: "/disks/e.raw", Cache: pcocc.CacheWriteback, MMP: pcocc.MMPYes}

	// Two allocations holding interleaved resources
	mine, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-1", "vm-1")
	s.Require().NoError(err)
	other, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-2", "vm-2")
	s.Require().NoError(err)
	_, err = s.Allocator.ReservePKey(ib, "alloc-1")
	s.Require().NoError(err)
	otherPKey, err := s.Allocator.ReservePKey(ib, "alloc-2")
	s.Require().NoError(err)
	_, err = s.Allocator.ReservePCI(vfio, 1, "alloc-1", "vm-1")
	s.Require().NoError(err)
	_, err = s.Allocator.AcquireDrive(drive, "alloc-1", "vm-1")
	s.Require().NoError(err)

	s.Allocator.ReleaseAllocation("alloc-1")

	// alloc-1's units are free again
	port, err := s.Allocator.ReservePort("nat-rssh", rnat, "alloc-3", "vm-3")
	s.Require().NoError(err)
	s.Equal(mine, port, "released port is the lowest free port again")
	_, err = s.Allocator.AcquireDrive(drive, "alloc-3", "vm-3")
	s.NoError(err)

	// alloc-2's are untouched
	s.True(s.Allocator.ReleasePKey("ib", otherPKey), "other allocation still holds its pkey")
	s.Allocator.ReleasePort(other)

	// Releasing again changes nothing
	s.Allocator.ReleaseAllocation("alloc-1")
}
