package shm_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/shared-bitmap/internal/shmtest"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

type RegionTestSuite struct {
	suite.Suite
	alloc *shmtest.Allocator
}

func (s *RegionTestSuite) SetupTest() {
	s.alloc = shmtest.New()
}

func (s *RegionTestSuite) TestCreateShareClose() {
	r, err := shm.Create(s.alloc, 128)
	s.Require().NoError(err)
	s.Require().Equal(128, r.Size())

	d, err := r.Share(7)
	s.Require().NoError(err)
	s.Require().True(d.Valid())
	s.Require().Equal(1, s.alloc.Shares(7))

	r.Bytes()[5] = 9
	s.Require().Equal(byte(9), s.alloc.Bytes(d)[5])

	s.Require().NoError(r.CloseHandle())
	s.Require().NoError(r.CloseHandle())
	_, err = r.Share(7)
	s.Require().ErrorIs(err, shm.ErrHandleClosed)
	s.Require().NotNil(r.Bytes())

	s.Require().NoError(r.Close())
	s.Require().NoError(r.Close())
	s.Require().Nil(r.Bytes())
	s.Require().Zero(s.alloc.Mapped())
	// only the shared descriptor is left, owned by the receiver
	s.Require().Equal(1, s.alloc.OpenDescriptors())
}

func (s *RegionTestSuite) TestCreateRollsBackOnMapFailure() {
	s.alloc.FailMap.Store(true)
	_, err := shm.Create(s.alloc, 64)
	s.Require().ErrorIs(err, shm.ErrMap)
	s.Require().Zero(s.alloc.OpenDescriptors())
}

func (s *RegionTestSuite) TestCreateFailure() {
	s.alloc.FailCreate.Store(true)
	_, err := shm.Create(s.alloc, 64)
	s.Require().ErrorIs(err, shm.ErrCreate)

	_, err = shm.Create(s.alloc, 0)
	s.Require().ErrorIs(err, shm.ErrInvalidSize)
}

func (s *RegionTestSuite) TestOpenTakesOwnership() {
	d := s.alloc.Announce(32)
	s.alloc.FailMap.Store(true)
	_, err := shm.Open(s.alloc, d, 32)
	s.Require().ErrorIs(err, shm.ErrMap)
	s.Require().Zero(s.alloc.OpenDescriptors())

	s.alloc.FailMap.Store(false)
	d = s.alloc.Announce(32)
	r, err := shm.Open(s.alloc, d, 16)
	s.Require().NoError(err)
	s.Require().Equal(16, r.Size())
	s.Require().NoError(r.Close())
	s.Require().Zero(s.alloc.OpenDescriptors())
}

func (s *RegionTestSuite) TestOpenInvalid() {
	_, err := shm.Open(s.alloc, shm.InvalidDescriptor, 16)
	s.Require().ErrorIs(err, shm.ErrMap)

	d := s.alloc.Announce(16)
	_, err = shm.Open(s.alloc, d, -1)
	s.Require().ErrorIs(err, shm.ErrInvalidSize)
	s.Require().Zero(s.alloc.OpenDescriptors())
}

func TestRegionTestSuite(t *testing.T) {
	suite.Run(t, new(RegionTestSuite))
}

func TestOSAllocatorRoundTrip(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("memfd is linux only")
	}
	a := shm.NewOSAllocator("region-test")
	r, err := shm.Create(a, 4096)
	require.NoError(t, err)
	r.Bytes()[0] = 1

	d, err := r.Share(int32(1))
	require.NoError(t, err)
	require.NoError(t, r.CloseHandle())

	peer, err := shm.Open(a, d, 4096)
	require.NoError(t, err)
	require.Equal(t, byte(1), peer.Bytes()[0])

	require.NoError(t, peer.Close())
	require.NoError(t, r.Close())
}
